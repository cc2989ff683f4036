package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// maxLineSize fits the largest answer the API accepts plus the envelope.
const maxLineSize = 512 * 1024

// session is the part of the controller the line protocol drives.
type session interface {
	Dispatch(proctor.Signal) error
	LoadDraft(ctx context.Context, questionID uuid.UUID, variant, template string) (string, draft.Source)
}

// closedResponse is the last line written once the session terminates.
type closedResponse struct {
	Event ws.Event `json:"event"`
	Phase string   `json:"phase"`
}

func newLineOutbox() *proctor.Outbox {
	return proctor.NewOutbox(
		func(s proctor.Snapshot) any { return ws.SnapshotResponse{Event: ws.EventSnapshot, Snapshot: s} },
		func(n proctor.Notice) any { return ws.NoticeResponse{Event: ws.EventNotice, Notice: n} },
	)
}

// pumpInput reads one request per line and feeds it to the session. Replies
// that are not snapshots or notices go through the outbox to keep one writer.
func pumpInput(ctx context.Context, r io.Reader, s session, outbox *proctor.Outbox) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg ws.RequestPayload
		if err := json.Unmarshal(line, &msg); err != nil {
			outbox.Push(ws.NewError("invalid JSON: " + err.Error()))
			continue
		}

		switch msg.Action {
		case ws.ActionSignal:
			if msg.Signal == nil {
				outbox.Push(ws.NewError("signal is required"))
				continue
			}
			if err := s.Dispatch(*msg.Signal); err != nil {
				outbox.Push(ws.NewError(err.Error()))
			}
		case ws.ActionLoadDraft:
			questionID, err := uuid.Parse(msg.QuestionID)
			if err != nil {
				outbox.Push(ws.NewError("invalid question_id format"))
				continue
			}
			content, source := s.LoadDraft(ctx, questionID, msg.Variant, msg.Template)
			outbox.Push(ws.DraftResponse{
				Event:      ws.EventDraft,
				QuestionID: msg.QuestionID,
				Variant:    msg.Variant,
				Content:    content,
				Source:     source,
			})
		case ws.ActionPing:
			outbox.Push(ws.PongResponse{Event: ws.EventPong})
		default:
			outbox.Push(ws.NewError("unknown action: " + string(msg.Action)))
		}
	}
	return scanner.Err()
}

// pumpOutput writes outbox items as JSON lines until the session is done,
// then flushes and writes a closing line.
func pumpOutput(ctx context.Context, w io.Writer, outbox *proctor.Outbox, done <-chan struct{}) error {
	enc := json.NewEncoder(w)
	flush := func() error {
		for _, item := range outbox.Take() {
			if err := enc.Encode(item); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return flush()
		case <-outbox.Ready():
			if err := flush(); err != nil {
				return err
			}
		case <-done:
			if err := flush(); err != nil {
				return err
			}
			return enc.Encode(closedResponse{Event: ws.EventClosed, Phase: string(model.PhaseTerminated)})
		}
	}
}
