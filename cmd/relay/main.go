package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tgrelay/internal/config"
	"tgrelay/internal/conversation"
	"tgrelay/internal/dedup"
	"tgrelay/internal/httpserver"
	"tgrelay/internal/llm"
	"tgrelay/internal/metrics"
	"tgrelay/internal/relay"
	"tgrelay/internal/retry"
	"tgrelay/internal/telegram"
	"tgrelay/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	m := metrics.New()

	telegramHTTP := transport.NewHTTPClient(transport.Options{Timeout: cfg.RequestTimeout})
	modelHTTP := transport.NewHTTPClient(transport.Options{
		Timeout:         cfg.Model.Timeout,
		MaxConnsPerHost: cfg.Model.MaxConcurrent,
	})

	backend, err := llm.NewBackend(cfg.Model, modelHTTP, logger)
	if err != nil {
		return fmt.Errorf("init model backend: %w", err)
	}
	if ollama, ok := backend.(*llm.OllamaClient); ok {
		pullCtx, cancel := context.WithTimeout(ctx, cfg.Model.PullTimeout)
		err := ollama.EnsureModel(pullCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("prepare ollama model: %w", err)
		}
	}
	logger.Info("model backend ready",
		slog.String("provider", backend.Provider()),
		slog.String("model", backend.Model()))

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Model.MaxAttempts
	gateway := llm.WithRetry(
		llm.WithConcurrencyLimit(
			llm.WithObserver(backend, backend.Provider(), backend.Model(), m),
			int64(cfg.Model.MaxConcurrent),
		),
		policy, logger,
	)

	store := conversation.NewStore(cfg.Memory.MaxHistory)
	seen := dedup.New[string](cfg.Memory.UpdatesExpiry, dedup.WithOnEvict[string](m.DedupEvicted))
	m.TrackSize("dedup_entries", "Number of update ids held for deduplication", seen.Len)
	m.TrackSize("conversations_active", "Number of conversations held in memory", store.Len)
	logger.Info("memory limits",
		slog.Int("max_history", store.MaxHistory()),
		slog.Duration("updates_expiry", seen.TTL()),
		slog.Duration("idle_ttl", cfg.Memory.IdleTTL))

	bot := telegram.NewClient(cfg.Telegram, telegramHTTP, logger)
	dispatcher := relay.NewDispatcher(relay.Deps{
		Store:        store,
		Seen:         seen,
		Gateway:      gateway,
		SystemPrompt: cfg.Model.SystemPrompt,
		Timeout:      cfg.Model.Timeout,
		Notifier:     telegram.TypingNotifier{Bot: bot},
		Observer:     m,
		Logger:       logger,
	})
	webhookHandler := telegram.NewWebhookHandler(telegram.WebhookDeps{
		Dispatcher:    dispatcher,
		Bot:           bot,
		Logger:        logger,
		Token:         cfg.Telegram.Token,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	})

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Logger:         logger,
		WebhookHandler: webhookHandler,
		MetricsHandler: m.Handler(),
	})

	// A webhook request stays open for the whole model exchange.
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Model.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		seen.Run(gctx, cfg.Memory.SweepInterval)
		return nil
	})

	if cfg.Memory.IdleTTL > 0 {
		g.Go(func() error {
			store.RunEviction(gctx, cfg.Memory.IdleTTL, cfg.Memory.SweepInterval, func(n int) {
				m.ConversationsEvicted(n)
				logger.Info("idle conversations evicted", slog.Int("count", n))
			})
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
