// Package store persists sessions and their turn logs.
package store

import (
	"context"
	"time"
)

// SessionState is the lifecycle state of a stored session.
type SessionState string

const (
	StateCreated SessionState = "created"
	StateActive  SessionState = "active"
	StatePaused  SessionState = "paused"
	StateClosed  SessionState = "closed"
)

// SessionRecord is the durable record of one session.
type SessionRecord struct {
	ID             string
	OwnerID        string
	State          SessionState
	CreatedAt      time.Time
	LastActivityAt time.Time
	Deleted        bool
}

// Turn is one committed conversation turn. Seq is assigned by the store and
// is contiguous from 1 within a session.
type Turn struct {
	SessionID string
	Seq       int64
	Speaker   string
	Content   string
	CreatedAt time.Time
	Completed bool
}

// Speaker values for Turn.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// TurnLog is the storage interface for sessions and their append-only turn
// logs. Implementations assign turn sequence numbers atomically so that
// concurrent appends to one session serialize without gaps.
type TurnLog interface {
	// CreateSession records a new session owned by ownerID.
	CreateSession(ctx context.Context, id, ownerID string) (SessionRecord, error)

	// GetSession returns the session record. Soft-deleted sessions are not
	// returned.
	GetSession(ctx context.Context, id string) (SessionRecord, error)

	// ListSessions returns the owner's sessions, newest first, excluding
	// soft-deleted ones.
	ListSessions(ctx context.Context, ownerID string) ([]SessionRecord, error)

	// SetSessionState transitions the session and bumps LastActivityAt.
	SetSessionState(ctx context.Context, id string, state SessionState) error

	// TouchSession bumps LastActivityAt without a state change.
	TouchSession(ctx context.Context, id string) error

	// DeleteSession soft-deletes the session. The turn log is retained.
	DeleteSession(ctx context.Context, id string) error

	// AppendTurn appends a turn, assigning the next sequence number.
	AppendTurn(ctx context.Context, sessionID, speaker, content string, completed bool) (Turn, error)

	// UpdateTurn replaces the content and completed flag of a previously
	// appended turn. Used to finish an assistant turn with its full text,
	// or to store the partial text of an interrupted one.
	UpdateTurn(ctx context.Context, sessionID string, seq int64, content string, completed bool) error

	// ReadTurns returns the session's turns in ascending sequence order.
	ReadTurns(ctx context.Context, sessionID string) ([]Turn, error)

	// Close releases the store's resources.
	Close() error
}
