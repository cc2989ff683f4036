// Package draft is the two-tier answer persistence used by the session controller.
// Tier 1 is a local draft cache written on every edit; Tier 2 is the server's
// acknowledged copy, written at save points.
package draft

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrNotFound is returned by a Store when nothing is cached under a key.
var ErrNotFound = errors.New("draft not found")

// Key identifies one draft. Variant is the language for code questions and the
// fileset name for frontend questions; quiz answers use an empty variant.
type Key struct {
	SessionID  uuid.UUID
	QuestionID uuid.UUID
	Variant    string
}

// Field is the key's name inside a session's draft namespace.
func (k Key) Field() string {
	return k.QuestionID.String() + ":" + k.Variant
}

// Store is the Tier-1 cache. It also keeps the controller's heartbeat, which
// tells a freshly constructed controller whether it is resuming from a reload.
type Store interface {
	Put(ctx context.Context, key Key, content string) error
	Get(ctx context.Context, key Key) (string, error)
	Delete(ctx context.Context, key Key) error
	Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	LastSeen(ctx context.Context, sessionID uuid.UUID) (time.Time, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// Remote is the Tier-2 store: the server's save endpoints plus a read of what it holds.
type Remote interface {
	SaveCode(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error
	SaveQuizAnswer(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error
	SaveFrontendCode(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error
	LoadSaved(ctx context.Context, attemptID uuid.UUID) ([]model.SavedAnswer, error)
}
