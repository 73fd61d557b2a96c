package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("ATTUNE_AUTH_SECRET", "test-secret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.ResumeWindow != 5*time.Minute {
		t.Fatalf("ResumeWindow = %v, want 5m", cfg.ResumeWindow)
	}
	if cfg.SilenceCommitDuration != 600*time.Millisecond {
		t.Fatalf("SilenceCommitDuration = %v, want 600ms", cfg.SilenceCommitDuration)
	}
	if cfg.Model != "gemini-2.5-flash" {
		t.Fatalf("Model = %q, want gemini-2.5-flash", cfg.Model)
	}
	if cfg.SampleRate != 16000 || cfg.OutputSampleRate != 24000 {
		t.Fatalf("rates = %d/%d, want 16000/24000", cfg.SampleRate, cfg.OutputSampleRate)
	}
	if cfg.MaxSessionDuration != 2*time.Hour {
		t.Fatalf("MaxSessionDuration = %v, want 2h", cfg.MaxSessionDuration)
	}
	if cfg.WSReadTimeout != 60*time.Second {
		t.Fatalf("WSReadTimeout = %v, want 60s", cfg.WSReadTimeout)
	}
}

func TestLoadFromEnvRequiresAuthSecret(t *testing.T) {
	t.Setenv("ATTUNE_AUTH_SECRET", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() without auth secret succeeded, want error")
	}
}

func TestLoadFromEnvOverridesAndValidation(t *testing.T) {
	t.Setenv("ATTUNE_AUTH_SECRET", "test-secret")
	t.Setenv("ATTUNE_RESUME_WINDOW", "90s")
	t.Setenv("ATTUNE_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.ResumeWindow != 90*time.Second {
		t.Fatalf("ResumeWindow = %v, want 90s", cfg.ResumeWindow)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 origins", cfg.CORSAllowedOrigins)
	}

	t.Setenv("ATTUNE_CONTEXT_TOKEN_BUDGET", "0")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() with zero token budget succeeded, want error")
	}
}
