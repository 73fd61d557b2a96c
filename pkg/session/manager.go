// Package session owns the session lifecycle: creation, activation, pause,
// resume, and closure, plus turn persistence and context window assembly.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attune-voice/attune/pkg/core"
	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/store"
)

// Manager coordinates session state against the turn log and the pause
// store. All methods that act on an existing session enforce ownership:
// acting on another owner's session returns a forbidden error.
type Manager struct {
	log    store.TurnLog
	pauses PauseStore
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds a Manager. window is how long a paused session stays
// resumable.
func NewManager(log store.TurnLog, pauses PauseStore, window time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		log:    log,
		pauses: pauses,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Create records a new session for ownerID.
func (m *Manager) Create(ctx context.Context, ownerID string) (store.SessionRecord, error) {
	id := uuid.NewString()
	rec, err := m.log.CreateSession(ctx, id, ownerID)
	if err != nil {
		return store.SessionRecord{}, err
	}
	m.logger.Info("session created", "session_id", id, "owner_id", ownerID)
	return rec, nil
}

// Get returns the session after an ownership check.
func (m *Manager) Get(ctx context.Context, ownerID, id string) (store.SessionRecord, error) {
	rec, err := m.log.GetSession(ctx, id)
	if err != nil {
		return store.SessionRecord{}, err
	}
	if rec.OwnerID != ownerID {
		return store.SessionRecord{}, core.NewForbiddenError("session belongs to another owner")
	}
	return rec, nil
}

// List returns the owner's sessions, newest first.
func (m *Manager) List(ctx context.Context, ownerID string) ([]store.SessionRecord, error) {
	return m.log.ListSessions(ctx, ownerID)
}

// Activate transitions a session to active. A created session activates
// directly; a paused session resumes if its window has not lapsed. Resuming
// past the window, or with no pause record to check it against, closes the
// session and returns a session-expired error. An already active session
// activates again for the same owner, which lets a new connection take the
// session over. Returns the record plus whether this activation was a resume.
func (m *Manager) Activate(ctx context.Context, ownerID, id string) (store.SessionRecord, bool, error) {
	rec, err := m.Get(ctx, ownerID, id)
	if err != nil {
		return store.SessionRecord{}, false, err
	}

	switch rec.State {
	case store.StateCreated:
		if err := m.log.SetSessionState(ctx, id, store.StateActive); err != nil {
			return store.SessionRecord{}, false, err
		}
		rec.State = store.StateActive
		return rec, false, nil

	case store.StatePaused:
		deadline, ok, err := m.pauses.Deadline(ctx, id)
		if err != nil {
			return store.SessionRecord{}, false, core.NewPersistenceError(err)
		}
		// A vanished pause record (expired TTL, restarted process) means the
		// window cannot be verified, so the resume is refused.
		if !ok || m.now().After(deadline) {
			if err := m.log.SetSessionState(ctx, id, store.StateClosed); err != nil {
				m.logger.Warn("close expired session", "session_id", id, "error", err)
			}
			_ = m.pauses.Clear(ctx, id)
			m.logger.Info("session expired", "session_id", id)
			return store.SessionRecord{}, false, core.NewSessionExpiredError("resume window lapsed")
		}
		if err := m.log.SetSessionState(ctx, id, store.StateActive); err != nil {
			return store.SessionRecord{}, false, err
		}
		if err := m.pauses.Clear(ctx, id); err != nil {
			m.logger.Warn("clear pause entry", "session_id", id, "error", err)
		}
		rec.State = store.StateActive
		m.logger.Info("session resumed", "session_id", id)
		return rec, true, nil

	case store.StateActive:
		// Takeover: a reconnecting client reattaches to its live session; the
		// connection tracker displaces whichever connection held it before.
		m.logger.Info("session taken over", "session_id", id)
		return rec, true, nil

	case store.StateClosed:
		return store.SessionRecord{}, false, core.NewSessionClosedError("session is closed")

	default:
		return store.SessionRecord{}, false, core.NewInternalError("unknown session state")
	}
}

// Pause transitions an active session to paused and starts its resume
// window.
func (m *Manager) Pause(ctx context.Context, id string) error {
	rec, err := m.log.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if rec.State != store.StateActive {
		return core.NewInvalidRequestError("only active sessions pause")
	}
	if err := m.log.SetSessionState(ctx, id, store.StatePaused); err != nil {
		return err
	}
	deadline := m.now().Add(m.window)
	if err := m.pauses.SetDeadline(ctx, id, deadline); err != nil {
		return core.NewPersistenceError(err)
	}
	m.logger.Info("session paused", "session_id", id, "resume_deadline", deadline)
	return nil
}

// CloseSession transitions the session to closed. Closing an already closed
// session is a no-op.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	rec, err := m.log.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == store.StateClosed {
		return nil
	}
	if err := m.log.SetSessionState(ctx, id, store.StateClosed); err != nil {
		return err
	}
	_ = m.pauses.Clear(ctx, id)
	m.logger.Info("session closed", "session_id", id)
	return nil
}

// Delete soft-deletes the session after an ownership check. The turn log
// survives deletion.
func (m *Manager) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := m.Get(ctx, ownerID, id); err != nil {
		return err
	}
	_ = m.pauses.Clear(ctx, id)
	return m.log.DeleteSession(ctx, id)
}

// History returns the session's full turn log after an ownership check.
func (m *Manager) History(ctx context.Context, ownerID, id string) ([]store.Turn, error) {
	if _, err := m.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return m.log.ReadTurns(ctx, id)
}

// AppendUserTurn durably appends a completed user turn.
func (m *Manager) AppendUserTurn(ctx context.Context, id, text string) (store.Turn, error) {
	return m.log.AppendTurn(ctx, id, store.SpeakerUser, text, true)
}

// BeginAssistantTurn appends an assistant turn in the incomplete state. If
// generation is interrupted the turn stays incomplete with whatever text had
// been produced.
func (m *Manager) BeginAssistantTurn(ctx context.Context, id string) (store.Turn, error) {
	return m.log.AppendTurn(ctx, id, store.SpeakerAssistant, "", false)
}

// FinishAssistantTurn marks the assistant turn completed with its full text.
func (m *Manager) FinishAssistantTurn(ctx context.Context, id string, seq int64, text string) error {
	return m.log.UpdateTurn(ctx, id, seq, text, true)
}

// RecordInterruptedAssistantTurn stores the partial text on an interrupted
// assistant turn, leaving it incomplete.
func (m *Manager) RecordInterruptedAssistantTurn(ctx context.Context, id string, seq int64, partial string) error {
	return m.log.UpdateTurn(ctx, id, seq, partial, false)
}

// ContextWindow assembles the generation context from the turn log, dropping
// oldest turns first when the token budget is exceeded. Tokens are estimated
// as len/4.
func (m *Manager) ContextWindow(ctx context.Context, id string, tokenBudget int) ([]llm.Turn, error) {
	turns, err := m.log.ReadTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	return buildWindow(turns, tokenBudget), nil
}
