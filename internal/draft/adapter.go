package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Source says which tier a loaded draft came from.
type Source string

const (
	SourceLocal    Source = "LOCAL"
	SourceRemote   Source = "REMOTE"
	SourceTemplate Source = "TEMPLATE"
)

// Adapter combines both tiers behind the read/write rules the controller relies on.
type Adapter struct {
	local  Store
	remote Remote
	log    zerolog.Logger

	mu    sync.Mutex
	saved map[Key]string
}

// NewAdapter creates an Adapter over a Tier-1 store and a Tier-2 remote.
func NewAdapter(local Store, remote Remote, log zerolog.Logger) *Adapter {
	return &Adapter{
		local:  local,
		remote: remote,
		log:    log.With().Str("component", "draft_adapter").Logger(),
		saved:  make(map[Key]string),
	}
}

// Local exposes the Tier-1 store for heartbeat bookkeeping.
func (a *Adapter) Local() Store {
	return a.local
}

// Edit writes content to Tier 1 immediately.
func (a *Adapter) Edit(ctx context.Context, key Key, content string) error {
	if err := a.local.Put(ctx, key, content); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

// Prime fetches the server's saved answers so Load can fall back to them.
func (a *Adapter) Prime(ctx context.Context, sessionID uuid.UUID) error {
	answers, err := a.remote.LoadSaved(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load saved answers: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ans := range answers {
		a.saved[Key{SessionID: sessionID, QuestionID: ans.QuestionID, Variant: ans.Variant}] = ans.Content
	}
	return nil
}

// Load prefers the Tier-1 draft, then the last known Tier-2 value, then the template.
func (a *Adapter) Load(ctx context.Context, key Key, template string) (string, Source) {
	content, err := a.local.Get(ctx, key)
	if err == nil {
		return content, SourceLocal
	}
	if !errors.Is(err, ErrNotFound) {
		a.log.Warn().Err(err).Str("field", key.Field()).Msg("Draft read failed, falling back")
	}

	a.mu.Lock()
	saved, ok := a.saved[key]
	a.mu.Unlock()
	if ok {
		return saved, SourceRemote
	}
	return template, SourceTemplate
}

// Push sends the Tier-1 content for key to the server. pushed is false when
// Tier 1 holds nothing for key.
func (a *Adapter) Push(ctx context.Context, kind model.QuestionKind, key Key) (pushed bool, err error) {
	content, err := a.local.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read draft: %w", err)
	}

	req := model.SaveAnswerRequest{
		QuestionID: key.QuestionID.String(),
		Variant:    key.Variant,
		Content:    content,
	}

	switch kind {
	case model.QuestionKindQuiz:
		err = a.remote.SaveQuizAnswer(ctx, key.SessionID, req)
	case model.QuestionKindFrontend:
		err = a.remote.SaveFrontendCode(ctx, key.SessionID, req)
	default:
		err = a.remote.SaveCode(ctx, key.SessionID, req)
	}
	if err != nil {
		return false, fmt.Errorf("save %s answer: %w", kind, err)
	}

	a.mu.Lock()
	a.saved[key] = content
	a.mu.Unlock()
	return true, nil
}
