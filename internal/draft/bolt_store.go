package draft

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	draftsBucket     = []byte("drafts")
	heartbeatsBucket = []byte("heartbeats")
)

// BoltStore is a file-backed Store used by the proctor agent, so drafts survive
// a process restart on the student's machine. Each session gets a nested bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the draft database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open draft db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(draftsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(heartbeatsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init draft db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Put(_ context.Context, key Key, content string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(draftsBucket).CreateBucketIfNotExists(key.SessionID[:])
		if err != nil {
			return err
		}
		return b.Put([]byte(key.Field()), []byte(content))
	})
}

func (s *BoltStore) Get(_ context.Context, key Key) (string, error) {
	var content string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(draftsBucket).Bucket(key.SessionID[:])
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key.Field()))
		if v == nil {
			return ErrNotFound
		}
		content = string(v)
		return nil
	})
	return content, err
}

func (s *BoltStore) Delete(_ context.Context, key Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(draftsBucket).Bucket(key.SessionID[:])
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key.Field()))
	})
}

func (s *BoltStore) Touch(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(heartbeatsBucket).Put(sessionID[:], buf)
	})
}

func (s *BoltStore) LastSeen(_ context.Context, sessionID uuid.UUID) (time.Time, error) {
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(heartbeatsBucket).Get(sessionID[:])
		if len(v) != 8 {
			return ErrNotFound
		}
		at = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
		return nil
	})
	return at, err
}

func (s *BoltStore) Clear(_ context.Context, sessionID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		drafts := tx.Bucket(draftsBucket)
		if drafts.Bucket(sessionID[:]) != nil {
			if err := drafts.DeleteBucket(sessionID[:]); err != nil {
				return err
			}
		}
		return tx.Bucket(heartbeatsBucket).Delete(sessionID[:])
	})
}
