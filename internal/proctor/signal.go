package proctor

import (
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// SignalType names an inbound browser signal or student action.
type SignalType string

const (
	SignalStart      SignalType = "start"
	SignalFullscreen SignalType = "fullscreen"
	SignalVisibility SignalType = "visibility"
	SignalBlur       SignalType = "blur"
	SignalSubmit     SignalType = "submit"
	SignalEdit       SignalType = "edit"
	SignalNavigate   SignalType = "navigate"
	SignalNext       SignalType = "next"
	SignalPrevious   SignalType = "previous"
	SignalSave       SignalType = "save"
	SignalCompleted  SignalType = "completed"
)

// Signal is the wire form of controller input, shared by the WebSocket stream
// and the agent's stdin bridge.
type Signal struct {
	Type         SignalType         `json:"type"`
	Fullscreen   bool               `json:"fullscreen,omitempty"`
	Hidden       bool               `json:"hidden,omitempty"`
	Index        int                `json:"index,omitempty"`
	Kind         model.QuestionKind `json:"kind,omitempty"`
	Variant      string             `json:"variant,omitempty"`
	Content      string             `json:"content,omitempty"`
	Confirmation string             `json:"confirmation,omitempty"`
	Trigger      SaveTrigger        `json:"trigger,omitempty"`
	Completed    bool               `json:"completed,omitempty"`
}

// Dispatch posts the event for s.
func (c *Controller) Dispatch(s Signal) error {
	switch s.Type {
	case SignalStart:
		c.Start()
	case SignalFullscreen:
		c.FullscreenChanged(s.Fullscreen)
	case SignalVisibility:
		c.VisibilityChanged(s.Hidden)
	case SignalBlur:
		c.WindowBlurred()
	case SignalSubmit:
		c.ManualSubmit(s.Confirmation)
	case SignalEdit:
		c.EditAnswer(s.Index, s.Variant, s.Content)
	case SignalNavigate:
		c.Navigate(s.Index)
	case SignalNext:
		c.NavigateNext(s.Kind)
	case SignalPrevious:
		c.NavigatePrevious(s.Kind)
	case SignalSave:
		switch s.Trigger {
		case SaveOnRunTests, SaveOnSubmitCode, SaveOnNavigate:
			c.SavePoint(s.Trigger)
		default:
			return fmt.Errorf("unknown save trigger %q", s.Trigger)
		}
	case SignalCompleted:
		c.MarkCompleted(s.Index, s.Completed)
	default:
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
	return nil
}
