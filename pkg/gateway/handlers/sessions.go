package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/attune-voice/attune/pkg/core"
	"github.com/attune-voice/attune/pkg/gateway/auth"
	"github.com/attune-voice/attune/pkg/session"
	"github.com/attune-voice/attune/pkg/store"
)

// SessionsHandler serves the /v1/sessions REST surface.
type SessionsHandler struct {
	Sessions *session.Manager
	Logger   *slog.Logger
}

type sessionResponse struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type turnResponse struct {
	Seq       int64     `json:"seq"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

func toSessionResponse(rec store.SessionRecord) sessionResponse {
	return sessionResponse{
		ID:             rec.ID,
		State:          string(rec.State),
		CreatedAt:      rec.CreatedAt,
		LastActivityAt: rec.LastActivityAt,
	}
}

func (h SessionsHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok || p.OwnerID == "" {
		writeError(w, r, core.NewUnauthorizedError("authentication required"))
		return "", false
	}
	return p.OwnerID, true
}

func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	rec, err := h.Sessions.Create(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(rec))
}

func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	recs, err := h.Sessions.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSessionResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	rec, err := h.Sessions.Get(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(rec))
}

func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	if err := h.Sessions.Delete(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	turns, err := h.Sessions.History(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]turnResponse, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turnResponse{
			Seq:       turn.Seq,
			Speaker:   turn.Speaker,
			Text:      turn.Content,
			Completed: turn.Completed,
			CreatedAt: turn.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": out})
}
