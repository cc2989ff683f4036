// Package gateway performs the authoritative submission of a session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/sync/singleflight"
)

// Request carries everything the server needs to finalise an attempt.
type Request struct {
	SessionID      uuid.UUID
	AssessmentID   uuid.UUID
	Reason         model.SubmissionReason
	ElapsedSeconds int
	ClientIP       string
}

// Result is the server's record of the submission.
type Result = model.SubmitResult

// Submitter is the remote submit call.
type Submitter interface {
	Submit(ctx context.Context, assessmentID uuid.UUID, req model.SubmitRequest) (model.SubmitResult, error)
}

const maxAttempts = 3

// Gateway makes submission idempotent per session: a success is cached and
// returned to every later caller, and concurrent calls share one remote call.
// Errors that report Temporary() are retried with backoff while ctx allows.
type Gateway struct {
	remote     Submitter
	log        zerolog.Logger
	retryDelay time.Duration

	group singleflight.Group
	mu    sync.Mutex
	done  map[uuid.UUID]Result
}

func New(remote Submitter, log zerolog.Logger) *Gateway {
	return &Gateway{
		remote:     remote,
		log:        log.With().Str("component", "submission_gateway").Logger(),
		retryDelay: 500 * time.Millisecond,
		done:       make(map[uuid.UUID]Result),
	}
}

// Submit finalises the session. A failed submission is not cached, so a later call retries.
func (g *Gateway) Submit(ctx context.Context, req Request) (Result, error) {
	if !req.Reason.Valid() {
		return Result{}, fmt.Errorf("submit %s: invalid reason %q", req.SessionID, req.Reason)
	}

	if res, ok := g.cached(req.SessionID); ok {
		return res, nil
	}

	v, err, shared := g.group.Do(req.SessionID.String(), func() (interface{}, error) {
		if res, ok := g.cached(req.SessionID); ok {
			return res, nil
		}

		res, err := g.call(ctx, req.AssessmentID, model.SubmitRequest{
			Reason:          req.Reason,
			TimeUsedSeconds: req.ElapsedSeconds,
			EndIP:           req.ClientIP,
			AttemptID:       req.SessionID.String(),
		})
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.done[req.SessionID] = res
		g.mu.Unlock()
		return res, nil
	})
	if err != nil {
		g.log.Error().Err(err).
			Str("attempt_id", req.SessionID.String()).
			Str("reason", string(req.Reason)).
			Msg("Submission failed")
		return Result{}, fmt.Errorf("submit attempt %s: %w", req.SessionID, err)
	}

	res := v.(Result)
	g.log.Info().
		Str("attempt_id", req.SessionID.String()).
		Str("reason", string(res.Reason)).
		Bool("shared", shared).
		Msg("Attempt submitted")
	return res, nil
}

func (g *Gateway) cached(id uuid.UUID) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.done[id]
	return res, ok
}

func (g *Gateway) call(ctx context.Context, assessmentID uuid.UUID, req model.SubmitRequest) (Result, error) {
	delay := g.retryDelay
	for attempt := 1; ; attempt++ {
		res, err := g.remote.Submit(ctx, assessmentID, req)
		if err == nil || attempt == maxAttempts || !temporary(err) {
			return res, err
		}
		g.log.Warn().Err(err).
			Str("attempt_id", req.AttemptID).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Submission failed, retrying")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return res, err
		case <-t.C:
		}
		delay *= 2
	}
}

func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
