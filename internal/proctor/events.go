package proctor

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// SaveTrigger names the user action that forces a Tier-2 save.
type SaveTrigger string

const (
	SaveOnRunTests   SaveTrigger = "RUN_TESTS"
	SaveOnSubmitCode SaveTrigger = "SUBMIT_CODE"
	SaveOnNavigate   SaveTrigger = "NAVIGATE"
)

type event interface{}

type (
	startEvent             struct{}
	fullscreenChangedEvent struct{ active bool }
	visibilityChangedEvent struct{ hidden bool }
	windowBlurredEvent     struct{}
	manualSubmitEvent      struct{ confirmation string }
	answerEditedEvent      struct {
		index   int
		variant string
		content string
	}
	navigateEvent struct {
		index int
		step  int // 0 jumps to index, +1/-1 move within kind
		kind  model.QuestionKind
	}
	savePointEvent     struct{ trigger SaveTrigger }
	markCompletedEvent struct {
		index     int
		completed bool
	}

	timerFired struct {
		kind  timerKind
		epoch uint64
	}

	loadedEvent struct {
		sessionID uuid.UUID
		cfg       model.SessionConfig
		questions []model.QuestionForStudent
		lastSeen  time.Time
		seen      bool
		err       error
	}
	ipResolvedEvent  struct{ ip string }
	violationAckEvent struct {
		pending violation.Pending
		count   int
		err     error
	}
	saveAckEvent struct {
		key     draft.Key
		version uint64
		pushed  bool
		err     error
	}
	submitDoneEvent struct {
		result gateway.Result
		err    error
	}
)

// Start begins the preparation countdown and the background load.
func (c *Controller) Start() { c.post(startEvent{}) }

// FullscreenChanged reports the document's fullscreen state.
func (c *Controller) FullscreenChanged(active bool) { c.post(fullscreenChangedEvent{active: active}) }

// VisibilityChanged reports the document's visibility.
func (c *Controller) VisibilityChanged(hidden bool) { c.post(visibilityChangedEvent{hidden: hidden}) }

// WindowBlurred reports that the window lost focus.
func (c *Controller) WindowBlurred() { c.post(windowBlurredEvent{}) }

// ManualSubmit asks to end the session. confirmation must equal the configured token.
func (c *Controller) ManualSubmit(confirmation string) {
	c.post(manualSubmitEvent{confirmation: confirmation})
}

// EditAnswer records new content for the question at index.
func (c *Controller) EditAnswer(index int, variant, content string) {
	c.post(answerEditedEvent{index: index, variant: variant, content: content})
}

// Navigate moves to the question at index.
func (c *Controller) Navigate(index int) { c.post(navigateEvent{index: index}) }

// NavigateNext moves to the next question of kind; an empty kind means any question.
func (c *Controller) NavigateNext(kind model.QuestionKind) {
	c.post(navigateEvent{step: 1, kind: kind})
}

// NavigatePrevious moves to the previous question of kind; an empty kind means any question.
func (c *Controller) NavigatePrevious(kind model.QuestionKind) {
	c.post(navigateEvent{step: -1, kind: kind})
}

// SavePoint pushes unsaved drafts to the server.
func (c *Controller) SavePoint(trigger SaveTrigger) { c.post(savePointEvent{trigger: trigger}) }

// MarkCompleted records the acceptance result for the question at index.
func (c *Controller) MarkCompleted(index int, completed bool) {
	c.post(markCompletedEvent{index: index, completed: completed})
}
