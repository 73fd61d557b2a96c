package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// HS256 secret for verifying bearer tokens.
	AuthSecret string

	// Turn log backend. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// Pause store backend. Empty RedisAddr selects the in-memory store.
	RedisAddr     string
	RedisPassword string

	// Vendor credentials and models.
	GeminiAPIKey   string
	CartesiaAPIKey string
	Model          string
	VoiceID        string

	// Session behavior.
	ResumeWindow       time.Duration
	ContextTokenBudget int
	MaxSessionDuration time.Duration

	// Live WebSocket mode (/v1/live).
	SilenceCommitDuration time.Duration
	TurnTimeout           time.Duration
	SynthesisTimeout      time.Duration
	MaxAudioFrameBytes    int
	MaxJSONMessageBytes   int64
	MaxAudioBytesPerSec   int64
	InboundBurstSeconds   int
	WSPingInterval        time.Duration
	WSWriteTimeout        time.Duration
	WSReadTimeout         time.Duration
	HandshakeTimeout      time.Duration

	// Input audio format.
	SampleRate       int
	OutputSampleRate int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("ATTUNE_ADDR", ":8080"),
		AuthSecret:            strings.TrimSpace(os.Getenv("ATTUNE_AUTH_SECRET")),
		DatabaseURL:           strings.TrimSpace(os.Getenv("ATTUNE_DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(os.Getenv("ATTUNE_REDIS_ADDR")),
		RedisPassword:         strings.TrimSpace(os.Getenv("ATTUNE_REDIS_PASSWORD")),
		GeminiAPIKey:          strings.TrimSpace(os.Getenv("ATTUNE_GEMINI_API_KEY")),
		CartesiaAPIKey:        strings.TrimSpace(os.Getenv("ATTUNE_CARTESIA_API_KEY")),
		Model:                 envOr("ATTUNE_MODEL", "gemini-2.5-flash"),
		VoiceID:               envOr("ATTUNE_VOICE_ID", "a0e99841-438c-4a64-b679-ae501e7d6091"),
		ResumeWindow:          envDurationOr("ATTUNE_RESUME_WINDOW", 5*time.Minute),
		ContextTokenBudget:    envIntOr("ATTUNE_CONTEXT_TOKEN_BUDGET", 2048),
		MaxSessionDuration:    envDurationOr("ATTUNE_MAX_SESSION_DURATION", 2*time.Hour),
		SilenceCommitDuration: envDurationOr("ATTUNE_SILENCE_COMMIT_MS", 600*time.Millisecond),
		TurnTimeout:           envDurationOr("ATTUNE_TURN_TIMEOUT", 30*time.Second),
		SynthesisTimeout:      envDurationOr("ATTUNE_SYNTHESIS_TIMEOUT", 20*time.Second),
		MaxAudioFrameBytes:    envIntOr("ATTUNE_MAX_AUDIO_FRAME_BYTES", 8192),
		MaxJSONMessageBytes:   envInt64Or("ATTUNE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		MaxAudioBytesPerSec:   envInt64Or("ATTUNE_MAX_AUDIO_BPS", 128*1024),
		InboundBurstSeconds:   envIntOr("ATTUNE_INBOUND_BURST_SECONDS", 2),
		WSPingInterval:        envDurationOr("ATTUNE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:        envDurationOr("ATTUNE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:         envDurationOr("ATTUNE_WS_READ_TIMEOUT", 60*time.Second),
		HandshakeTimeout:      envDurationOr("ATTUNE_HANDSHAKE_TIMEOUT", 5*time.Second),
		SampleRate:            envIntOr("ATTUNE_SAMPLE_RATE", 16000),
		OutputSampleRate:      envIntOr("ATTUNE_OUTPUT_SAMPLE_RATE", 24000),
		CORSAllowedOrigins:    make(map[string]struct{}),
		ReadHeaderTimeout:     envDurationOr("ATTUNE_READ_HEADER_TIMEOUT", 10*time.Second),
		HandlerTimeout:        envDurationOr("ATTUNE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:   envDurationOr("ATTUNE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("ATTUNE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("ATTUNE_AUTH_SECRET must be set")
	}
	if cfg.ResumeWindow <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_RESUME_WINDOW must be > 0")
	}
	if cfg.ContextTokenBudget <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_CONTEXT_TOKEN_BUDGET must be > 0")
	}
	if cfg.SilenceCommitDuration <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SILENCE_COMMIT_MS must be > 0")
	}
	if cfg.TurnTimeout < 0 {
		return Config{}, fmt.Errorf("ATTUNE_TURN_TIMEOUT must be >= 0")
	}
	if cfg.SynthesisTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SYNTHESIS_TIMEOUT must be > 0")
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxAudioBytesPerSec < 0 {
		return Config{}, fmt.Errorf("ATTUNE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.InboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("ATTUNE_INBOUND_BURST_SECONDS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSec > 0 && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("ATTUNE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= cfg.WSPingInterval {
		return Config{}, fmt.Errorf("ATTUNE_WS_READ_TIMEOUT must be > ATTUNE_WS_PING_INTERVAL")
	}
	if cfg.MaxSessionDuration < 0 {
		return Config{}, fmt.Errorf("ATTUNE_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SAMPLE_RATE must be > 0")
	}
	if cfg.OutputSampleRate <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_OUTPUT_SAMPLE_RATE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
