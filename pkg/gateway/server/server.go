// Package server wires the HTTP surface: health, session REST, and the live
// WebSocket endpoint, with the shared middleware stack on top.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/core/stt"
	"github.com/attune-voice/attune/pkg/core/tts"
	"github.com/attune-voice/attune/pkg/gateway/auth"
	"github.com/attune-voice/attune/pkg/gateway/config"
	"github.com/attune-voice/attune/pkg/gateway/handlers"
	"github.com/attune-voice/attune/pkg/gateway/live/channels"
	"github.com/attune-voice/attune/pkg/gateway/mw"
	"github.com/attune-voice/attune/pkg/session"
)

type Dependencies struct {
	Sessions *session.Manager
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps     Dependencies
	verifier *auth.Verifier
	tracker  *channels.Tracker
	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		deps:     deps,
		verifier: auth.NewVerifier(cfg.AuthSecret),
		tracker:  channels.NewTracker(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Draining: s.IsDraining})

	sessions := handlers.SessionsHandler{Sessions: s.deps.Sessions, Logger: s.logger}
	s.mux.HandleFunc("POST /v1/sessions", sessions.Create)
	s.mux.HandleFunc("GET /v1/sessions", sessions.List)
	s.mux.HandleFunc("GET /v1/sessions/{id}", sessions.Get)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", sessions.Delete)
	s.mux.HandleFunc("GET /v1/sessions/{id}/history", sessions.History)

	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Sessions: s.deps.Sessions,
		STT:      s.deps.STT,
		LLM:      s.deps.LLM,
		TTS:      s.deps.TTS,
		Tracker:  s.tracker,
		Draining: s.IsDraining,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withAuth(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// withAuth requires a bearer token on everything except the probes.
func (s *Server) withAuth(next http.Handler) http.Handler {
	authed := mw.Auth(s.verifier, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz":
			next.ServeHTTP(w, r)
		default:
			authed.ServeHTTP(w, r)
		}
	})
}

func (s *Server) IsDraining() bool {
	return s.draining.Load()
}

// Drain stops admitting live connections, warns the attached ones, cancels
// them, and waits for them to unwind (each pauses its session on the way
// down). Bounded by ctx.
func (s *Server) Drain(ctx context.Context) {
	s.draining.Store(true)
	s.tracker.WarnAll("draining", "server is shutting down")
	s.tracker.CancelAll()
	if !s.tracker.Wait(ctx) {
		s.logger.Warn("drain timed out with live connections attached", "remaining", s.tracker.Count())
	}
}
