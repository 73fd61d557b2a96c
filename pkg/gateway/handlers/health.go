package handlers

import (
	"net/http"

	"github.com/attune-voice/attune/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the process is configured to serve traffic.
type ReadyHandler struct {
	Config   config.Config
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining,omitempty"`
		Store    string   `json:"store"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.AuthSecret == "" {
		issues = append(issues, "auth secret is not configured")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if h.Config.CartesiaAPIKey == "" {
		issues = append(issues, "cartesia api key is not configured")
	}
	if h.Config.ResumeWindow <= 0 {
		issues = append(issues, "resume window must be > 0")
	}
	if h.Config.ContextTokenBudget <= 0 {
		issues = append(issues, "context token budget must be > 0")
	}
	if h.Config.SilenceCommitDuration <= 0 {
		issues = append(issues, "silence commit duration must be > 0")
	}
	if h.Config.MaxAudioFrameBytes <= 0 || h.Config.MaxJSONMessageBytes <= 0 {
		issues = append(issues, "frame size limits must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Draining != nil && h.Draining()

	storeName := "memory"
	if h.Config.DatabaseURL != "" {
		storeName = "postgres"
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:       ok,
		Draining: draining,
		Store:    storeName,
		Issues:   issues,
	})
}
