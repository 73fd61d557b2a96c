package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PauseStore tracks the resume deadline of paused sessions. An entry exists
// only while a session is paused; resuming or closing clears it.
type PauseStore interface {
	// SetDeadline records when the paused session's resume window ends.
	SetDeadline(ctx context.Context, sessionID string, deadline time.Time) error

	// Deadline returns the recorded deadline, with ok=false if none exists.
	Deadline(ctx context.Context, sessionID string) (deadline time.Time, ok bool, err error)

	// Clear removes the entry. Clearing a missing entry is not an error.
	Clear(ctx context.Context, sessionID string) error
}

// MemoryPauseStore is the single-node PauseStore.
type MemoryPauseStore struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
}

func NewMemoryPauseStore() *MemoryPauseStore {
	return &MemoryPauseStore{deadlines: make(map[string]time.Time)}
}

func (s *MemoryPauseStore) SetDeadline(ctx context.Context, sessionID string, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[sessionID] = deadline
	return nil
}

func (s *MemoryPauseStore) Deadline(ctx context.Context, sessionID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deadlines[sessionID]
	return d, ok, nil
}

func (s *MemoryPauseStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, sessionID)
	return nil
}

// RedisPauseStore shares pause deadlines across nodes. Keys carry a TTL
// slightly past the deadline so abandoned sessions age out of Redis on
// their own.
type RedisPauseStore struct {
	client *redis.Client
}

func NewRedisPauseStore(client *redis.Client) *RedisPauseStore {
	return &RedisPauseStore{client: client}
}

func pauseKey(sessionID string) string {
	return "attune:pause:" + sessionID
}

func (s *RedisPauseStore) SetDeadline(ctx context.Context, sessionID string, deadline time.Time) error {
	ttl := time.Until(deadline) + time.Minute
	return s.client.Set(ctx, pauseKey(sessionID), deadline.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (s *RedisPauseStore) Deadline(ctx context.Context, sessionID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, pauseKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	d, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func (s *RedisPauseStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, pauseKey(sessionID)).Err()
}
