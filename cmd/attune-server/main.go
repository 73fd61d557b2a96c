package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/attune-voice/attune/internal/dotenv"
	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/core/stt"
	"github.com/attune-voice/attune/pkg/core/tts"
	"github.com/attune-voice/attune/pkg/gateway/config"
	gatewayserver "github.com/attune-voice/attune/pkg/gateway/server"
	"github.com/attune-voice/attune/pkg/session"
	"github.com/attune-voice/attune/pkg/store"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func newTurnLog(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.TurnLog, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory turn log")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(ctx, cfg.DatabaseURL)
}

func newPauseStore(cfg config.Config, logger *slog.Logger) session.PauseStore {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis configured, using in-memory pause store")
		return session.NewMemoryPauseStore()
	}
	return session.NewRedisPauseStore(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}))
}

func run(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	turnLog, err := newTurnLog(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open turn log: %w", err)
	}
	defer turnLog.Close()

	sessions := session.NewManager(turnLog, newPauseStore(cfg, logger), cfg.ResumeWindow, logger)

	gemini, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Sessions: sessions,
		STT:      stt.NewCartesia(cfg.CartesiaAPIKey),
		LLM:      gemini,
		TTS:      tts.NewCartesia(cfg.CartesiaAPIKey),
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting server", "addr", cfg.Addr, "model", cfg.Model)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Live connections pause their sessions during drain, so clients can
	// resume against the next process.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	gw.Drain(drainCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "attune-server: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "attune-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
