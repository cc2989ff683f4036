package draft

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func newBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
		"bolt": func(t *testing.T) Store { return newBoltStore(t) },
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			exerciseStore(t, open(t))
		})
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	session := uuid.New()
	key := Key{SessionID: session, QuestionID: uuid.New(), Variant: "python"}
	other := Key{SessionID: session, QuestionID: key.QuestionID, Variant: "go"}

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before put, got %v", err)
	}

	if err := s.Put(ctx, key, "print(1)"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, key, "print(2)"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Put(ctx, other, "package main"); err != nil {
		t.Fatalf("put other variant: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil || got != "print(2)" {
		t.Fatalf("expected latest draft, got %q err=%v", got, err)
	}
	got, err = s.Get(ctx, other)
	if err != nil || got != "package main" {
		t.Fatalf("variants must be independent, got %q err=%v", got, err)
	}

	if err := s.Delete(ctx, other); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, other); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if _, err := s.LastSeen(ctx, session); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no heartbeat yet, got %v", err)
	}
	beat := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Touch(ctx, session, beat); err != nil {
		t.Fatalf("touch: %v", err)
	}
	seen, err := s.LastSeen(ctx, session)
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if !seen.Equal(beat) {
		t.Fatalf("expected heartbeat %v, got %v", beat, seen)
	}

	if err := s.Clear(ctx, session); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected drafts cleared, got %v", err)
	}
	if _, err := s.LastSeen(ctx, session); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected heartbeat cleared, got %v", err)
	}
}

func TestRedisStoreSetsTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	key := Key{SessionID: uuid.New(), QuestionID: uuid.New()}

	if err := s.Put(context.Background(), key, "B"); err != nil {
		t.Fatalf("put: %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected draft to expire, got %v", err)
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	key := Key{SessionID: uuid.New(), QuestionID: uuid.New(), Variant: "index.html"}

	s, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(context.Background(), key, "<h1>hi</h1>"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenBoltStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(context.Background(), key)
	if err != nil || got != "<h1>hi</h1>" {
		t.Fatalf("expected draft after reopen, got %q err=%v", got, err)
	}
}
