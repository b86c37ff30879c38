package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"studypal/internal/app"
	"studypal/internal/attach"
	"studypal/internal/config"
	"studypal/internal/convlock"
	"studypal/internal/dedup"
	"studypal/internal/notify"
	"studypal/internal/ratelimit"
	"studypal/internal/server"
	"studypal/internal/tasks"
	"studypal/internal/usertoken"
	"studypal/internal/util"
	"studypal/pkg/ai"
	"studypal/pkg/domain"
	"studypal/pkg/storage"
	"studypal/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	durations := map[string]time.Duration{}
	for name, raw := range map[string]string{
		"jwtLeeway":      cfg.JWTLeeway,
		"waitTimeout":    cfg.WaitTimeout,
		"dedupWindow":    cfg.DedupWindow,
		"dedupRetention": cfg.DedupRetention,
		"janitorPeriod":  cfg.JanitorPeriod,
		"lockMaxHold":    cfg.LockMaxHold,
	} {
		d, err := config.ParseOptionalDuration(raw)
		if err != nil {
			fatal("invalid duration in config", "field", name, "err", err)
		}
		durations[name] = d
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		fatal("failed to init store", "err", err)
	}

	retention := durations["dedupRetention"]
	if retention <= 0 {
		retention = dedup.DefaultRetention
	}
	cache := dedup.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, "", retention)
	locker := convlock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, "", durations["lockMaxHold"])

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	notifier, err := buildNotifier(cfg, redisClient)
	if err != nil {
		fatal("failed to init notifier", "err", err)
	}

	var resolver *attach.Resolver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			fatal("failed to init object store", "err", err)
		}
		resolver = attach.NewResolver(objects, attach.Config{
			MaxCount:          cfg.MaxAttachments,
			MaxSizeBytes:      cfg.MaxUploadBytes,
			AllowedExtensions: config.ParseExtensions(cfg.AllowedExtensions),
		})
	}

	generators := map[string]ai.TextGenerator{
		domain.ProviderOllama: ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.Model),
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		generators[domain.ProviderOpenAI] = ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model)
	}

	registry := tasks.NewRegistry()

	appCore := app.New(app.Config{
		HistoryLimit:    cfg.HistoryLimit,
		WaitTimeout:     durations["waitTimeout"],
		DedupWindow:     durations["dedupWindow"],
		DefaultProvider: strings.ToLower(strings.TrimSpace(cfg.Provider)),
		DefaultModel:    cfg.Model,
	}, st, cache, locker, registry, notifier, resolver, generators)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCore.StartJanitor(ctx, durations["janitorPeriod"])

	var submitLimiter *ratelimit.FixedWindowLimiter
	if cfg.SubmitRateLimitPerMinute > 0 {
		submitLimiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "studypal:ratelimit:submit", cfg.SubmitRateLimitPerMinute, time.Minute)
		if err != nil {
			fatal("failed to init rate limiter", "err", err)
		}
	}

	verifier, err := usertoken.NewVerifier(cfg.JWTSecret, usertoken.Options{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   durations["jwtLeeway"],
	})
	if err != nil {
		fatal("failed to init token verifier", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  verifier,
		SubmitLimiter:  submitLimiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// The submission endpoint can hold a response open for the full
		// bounded wait.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "err", err)
		}
		// Let in-flight reply generations finish before the process exits.
		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Error("task drain error", "err", err)
		}
	}()

	slog.Info("assistant server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		stop()
	}
	<-shutdownDone
}

func buildNotifier(cfg config.FileConfig, client *redis.Client) (notify.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Notifier)) {
	case "", "none":
		return notify.NopNotifier{}, nil
	case "redis":
		return notify.NewRedisStreamNotifier(client, notify.RedisStreamConfig{Stream: cfg.ReplyStream})
	case "amqp":
		return notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
