package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

type fakeSession struct {
	signals []proctor.Signal
	loads   []uuid.UUID
}

func (f *fakeSession) Dispatch(s proctor.Signal) error {
	if s.Type == "bogus" {
		return errors.New("unknown signal type: bogus")
	}
	f.signals = append(f.signals, s)
	return nil
}

func (f *fakeSession) LoadDraft(_ context.Context, questionID uuid.UUID, _, template string) (string, draft.Source) {
	f.loads = append(f.loads, questionID)
	return template, draft.SourceTemplate
}

func decodeLines(t *testing.T, items []any) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestPumpInputDispatchesLines(t *testing.T) {
	questionID := uuid.New()
	input := strings.Join([]string{
		`{"action":"signal","signal":{"type":"visibility","hidden":true}}`,
		``,
		`{"action":"load_draft","question_id":"` + questionID.String() + `","variant":"go","template":"package main"}`,
		`{"action":"ping"}`,
		`not json`,
		`{"action":"signal","signal":{"type":"bogus"}}`,
		`{"action":"signal"}`,
		`{"action":"dance"}`,
	}, "\n")

	sess := &fakeSession{}
	outbox := newLineOutbox()
	if err := pumpInput(context.Background(), strings.NewReader(input), sess, outbox); err != nil {
		t.Fatalf("pumpInput: %v", err)
	}

	if len(sess.signals) != 1 || sess.signals[0].Type != proctor.SignalVisibility || !sess.signals[0].Hidden {
		t.Fatalf("unexpected signals: %+v", sess.signals)
	}
	if len(sess.loads) != 1 || sess.loads[0] != questionID {
		t.Fatalf("unexpected loads: %v", sess.loads)
	}

	lines := decodeLines(t, outbox.Take())
	wantEvents := []string{"draft", "pong", "error", "error", "error", "error"}
	if len(lines) != len(wantEvents) {
		t.Fatalf("expected %d replies, got %d: %v", len(wantEvents), len(lines), lines)
	}
	for i, want := range wantEvents {
		if lines[i]["event"] != want {
			t.Fatalf("reply %d: got %v, want %s", i, lines[i]["event"], want)
		}
	}
	if lines[0]["content"] != "package main" || lines[0]["source"] != string(draft.SourceTemplate) {
		t.Fatalf("unexpected draft reply: %v", lines[0])
	}
}

func TestPumpOutputWritesClosingLine(t *testing.T) {
	outbox := newLineOutbox()
	done := make(chan struct{})

	outbox.OnNotice(proctor.Notice{Kind: proctor.NoticeTerminal, Message: "waktu habis"})
	close(done)

	var buf bytes.Buffer
	errc := make(chan error, 1)
	go func() { errc <- pumpOutput(context.Background(), &buf, outbox, done) }()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("pumpOutput: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pumpOutput did not return after done")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected notice + closed lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"event":"notice"`) || !strings.Contains(lines[1], `"event":"closed"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
