package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attune-voice/attune/pkg/gateway/config"
)

func validConfig() config.Config {
	return config.Config{
		AuthSecret:            "secret",
		GeminiAPIKey:          "gk",
		CartesiaAPIKey:        "ck",
		ResumeWindow:          5 * time.Minute,
		ContextTokenBudget:    2048,
		SilenceCommitDuration: 600 * time.Millisecond,
		MaxAudioFrameBytes:    8192,
		MaxJSONMessageBytes:   64 * 1024,
		ReadHeaderTimeout:     10 * time.Second,
		HandlerTimeout:        2 * time.Minute,
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestReadyHandlerOK(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: validConfig()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK    bool   `json:"ok"`
		Store string `json:"store"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Store != "memory" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestReadyHandlerReportsIssues(t *testing.T) {
	cfg := validConfig()
	cfg.AuthSecret = ""
	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
	var resp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || len(resp.Issues) == 0 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestReadyHandlerDraining(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: validConfig(), Draining: func() bool { return true }}.
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 while draining", rr.Code)
	}
}
