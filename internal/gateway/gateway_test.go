package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type unavailableError struct{}

func (unavailableError) Error() string   { return "503 service unavailable" }
func (unavailableError) Temporary() bool { return true }

type fakeSubmitter struct {
	calls     atomic.Int32
	release   chan struct{}
	fail      atomic.Bool
	transient atomic.Int32
}

func (f *fakeSubmitter) Submit(_ context.Context, _ uuid.UUID, req model.SubmitRequest) (model.SubmitResult, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.transient.Add(-1) >= 0 {
		return model.SubmitResult{}, unavailableError{}
	}
	if f.fail.Load() {
		return model.SubmitResult{}, errors.New("502 bad gateway")
	}
	return model.SubmitResult{
		AttemptID:       uuid.MustParse(req.AttemptID),
		Reason:          req.Reason,
		SubmittedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TimeUsedSeconds: req.TimeUsedSeconds,
	}, nil
}

func TestSubmitIsIdempotent(t *testing.T) {
	remote := &fakeSubmitter{}
	g := New(remote, zerolog.Nop())
	req := Request{SessionID: uuid.New(), AssessmentID: uuid.New(), Reason: model.ReasonTimeUp, ElapsedSeconds: 3600}

	first, err := g.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	req.Reason = model.ReasonManual
	second, err := g.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if remote.calls.Load() != 1 {
		t.Fatalf("expected one remote call, got %d", remote.calls.Load())
	}
	if second != first || second.Reason != model.ReasonTimeUp {
		t.Fatalf("expected cached result %+v, got %+v", first, second)
	}
}

func TestConcurrentSubmitsCollapse(t *testing.T) {
	remote := &fakeSubmitter{release: make(chan struct{})}
	g := New(remote, zerolog.Nop())
	req := Request{SessionID: uuid.New(), AssessmentID: uuid.New(), Reason: model.ReasonTabSwitch}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.Submit(context.Background(), req)
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}

	// Let every goroutine reach the gateway before the remote answers.
	for remote.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(remote.release)
	wg.Wait()

	if remote.calls.Load() != 1 {
		t.Fatalf("expected one remote call, got %d", remote.calls.Load())
	}
	for i, res := range results {
		if res.AttemptID != req.SessionID {
			t.Fatalf("result %d has attempt %s, want %s", i, res.AttemptID, req.SessionID)
		}
	}
}

func TestFailedSubmitIsNotCached(t *testing.T) {
	remote := &fakeSubmitter{}
	remote.fail.Store(true)
	g := New(remote, zerolog.Nop())
	req := Request{SessionID: uuid.New(), AssessmentID: uuid.New(), Reason: model.ReasonManual}

	if _, err := g.Submit(context.Background(), req); err == nil {
		t.Fatal("expected error from failing remote")
	}

	remote.fail.Store(false)
	if _, err := g.Submit(context.Background(), req); err != nil {
		t.Fatalf("retry: %v", err)
	}
	// A permanent error is not retried inside one call.
	if remote.calls.Load() != 2 {
		t.Fatalf("expected retry to reach remote, got %d calls", remote.calls.Load())
	}
}

func TestTemporaryFailuresAreRetried(t *testing.T) {
	remote := &fakeSubmitter{}
	remote.transient.Store(2)
	g := New(remote, zerolog.Nop())
	g.retryDelay = time.Millisecond
	req := Request{SessionID: uuid.New(), AssessmentID: uuid.New(), Reason: model.ReasonTimeUp}

	res, err := g.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if remote.calls.Load() != 3 || res.Reason != model.ReasonTimeUp {
		t.Fatalf("expected success on the third call, got %d calls, %+v", remote.calls.Load(), res)
	}
}

func TestRetriesStopAtLimit(t *testing.T) {
	remote := &fakeSubmitter{}
	remote.transient.Store(10)
	g := New(remote, zerolog.Nop())
	g.retryDelay = time.Millisecond

	_, err := g.Submit(context.Background(), Request{SessionID: uuid.New(), Reason: model.ReasonManual})
	if !errors.As(err, new(unavailableError)) {
		t.Fatalf("expected the last transient error, got %v", err)
	}
	if remote.calls.Load() != maxAttempts {
		t.Fatalf("expected %d calls, got %d", maxAttempts, remote.calls.Load())
	}
}

func TestInvalidReasonRejected(t *testing.T) {
	remote := &fakeSubmitter{}
	g := New(remote, zerolog.Nop())

	_, err := g.Submit(context.Background(), Request{SessionID: uuid.New(), Reason: "BORED"})
	if err == nil {
		t.Fatal("expected invalid reason error")
	}
	if remote.calls.Load() != 0 {
		t.Fatal("remote must not be called for an invalid reason")
	}
}
