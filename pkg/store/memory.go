package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/attune-voice/attune/pkg/core"
)

// Memory is an in-process TurnLog used in tests and single-node development.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*SessionRecord
	turns    map[string][]Turn
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*SessionRecord),
		turns:    make(map[string][]Turn),
	}
}

func (m *Memory) CreateSession(ctx context.Context, id, ownerID string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return SessionRecord{}, core.NewInvalidRequestError("session already exists")
	}
	now := time.Now().UTC()
	rec := &SessionRecord{
		ID:             id,
		OwnerID:        ownerID,
		State:          StateCreated,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[id] = rec
	return *rec, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || rec.Deleted {
		return SessionRecord{}, core.NewNotFoundError("session not found")
	}
	return *rec, nil
}

func (m *Memory) ListSessions(ctx context.Context, ownerID string) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SessionRecord
	for _, rec := range m.sessions {
		if rec.OwnerID == ownerID && !rec.Deleted {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SetSessionState(ctx context.Context, id string, state SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || rec.Deleted {
		return core.NewNotFoundError("session not found")
	}
	rec.State = state
	rec.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Memory) TouchSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || rec.Deleted {
		return core.NewNotFoundError("session not found")
	}
	rec.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || rec.Deleted {
		return core.NewNotFoundError("session not found")
	}
	rec.Deleted = true
	return nil
}

func (m *Memory) AppendTurn(ctx context.Context, sessionID, speaker, content string, completed bool) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || rec.Deleted {
		return Turn{}, core.NewNotFoundError("session not found")
	}
	if rec.State == StateClosed {
		return Turn{}, core.NewSessionClosedError("session is closed")
	}
	turn := Turn{
		SessionID: sessionID,
		Seq:       int64(len(m.turns[sessionID])) + 1,
		Speaker:   speaker,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Completed: completed,
	}
	m.turns[sessionID] = append(m.turns[sessionID], turn)
	rec.LastActivityAt = turn.CreatedAt
	return turn, nil
}

func (m *Memory) UpdateTurn(ctx context.Context, sessionID string, seq int64, content string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.turns[sessionID]
	if seq < 1 || seq > int64(len(turns)) {
		return core.NewNotFoundError("turn not found")
	}
	if turns[seq-1].Completed {
		return core.NewInvalidRequestError("turn is already completed")
	}
	turns[seq-1].Content = content
	turns[seq-1].Completed = completed
	return nil
}

func (m *Memory) ReadTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, core.NewNotFoundError("session not found")
	}
	out := make([]Turn, len(m.turns[sessionID]))
	copy(out, m.turns[sessionID])
	return out, nil
}

func (m *Memory) Close() error { return nil }
