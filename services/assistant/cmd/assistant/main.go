package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"lumosai/internal/ratelimit"
	"lumosai/internal/util"
	"lumosai/pkg/ai"
	"lumosai/pkg/auth"
	"lumosai/pkg/cache"
	"lumosai/pkg/memory"
	"lumosai/pkg/prompt"
	"lumosai/pkg/queue"
	"lumosai/pkg/storage"
	"lumosai/pkg/store"
	"lumosai/pkg/telemetry"
	"lumosai/services/assistant/internal/app"
	"lumosai/services/assistant/internal/config"
	"lumosai/services/assistant/internal/server"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(); err != nil {
			fmt.Fprintf(os.Stderr, "hash-password: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "WARN: failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// the history cache degrades to store reads; rate limits fail closed
		logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "err", err)
	}

	historyCache, err := cache.NewRedisHistoryCache(redisClient, cache.Config{
		KeyPrefix: cfg.CacheKeyPrefix,
		TTL:       config.MustDuration(cfg.HistoryTTL),
		Window:    cfg.HistoryWindow,
	})
	if err != nil {
		util.Fatal("failed to init history cache", "err", err)
	}
	mem, err := memory.New(st, historyCache, memory.WithWindow(cfg.HistoryWindow), memory.WithLogger(logger))
	if err != nil {
		util.Fatal("failed to init memory", "err", err)
	}

	chat, images, err := buildProviders(cfg)
	if err != nil {
		util.Fatal("failed to init providers", "err", err)
	}

	recorder, err := buildRecorder(ctx, cfg, st, redisClient, logger)
	if err != nil {
		util.Fatal("failed to init telemetry", "err", err)
	}
	monitor := telemetry.NewMonitor(st, telemetry.Pricing{
		USDToBRL:       cfg.Pricing.USDToBRL,
		InputUSDPer1M:  cfg.Pricing.InputUSDPer1M,
		OutputUSDPer1M: cfg.Pricing.OutputUSDPer1M,
		USDPerImage:    cfg.Pricing.USDPerImage,
	})

	var archive *storage.ImageArchive
	if cfg.Minio.Endpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			util.Fatal("failed to init minio", "err", err)
		}
		archive, err = storage.NewImageArchive(objects, config.MustDuration(cfg.Minio.PresignTTL))
		if err != nil {
			util.Fatal("failed to init image archive", "err", err)
		}
	}

	sessions, err := buildSessions(cfg, redisClient, logger)
	if err != nil {
		util.Fatal("failed to init sessions", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:              st,
		Memory:             mem,
		Chat:               chat,
		Images:             images,
		Assembler:          prompt.NewAssembler(*cfg.WebSearch),
		Intent:             prompt.NewIntentDetector(cfg.ImageIntent.Verbs, cfg.ImageIntent.Nouns, cfg.ImageIntent.Lookback),
		Recorder:           recorder,
		Monitor:            monitor,
		Archive:            archive,
		Sessions:           sessions,
		LoginEmail:         cfg.Auth.Email,
		LoginPasswordHash:  cfg.Auth.PasswordHash,
		DefaultTemperature: *cfg.DefaultTemperature,
		MaxOutputTokens:    cfg.MaxOutputTokens,
		WebSearch:          *cfg.WebSearch,
		Logger:             logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy list", "err", err)
	}
	sendLimiter, err := optionalLimiter(redisClient, "lumos:ratelimit:send", cfg.SendRateLimitPerMinute)
	if err != nil {
		util.Fatal("failed to init send rate limiter", "err", err)
	}
	loginLimiter, err := optionalLimiter(redisClient, "lumos:ratelimit:login", cfg.LoginRateLimitPerMinute)
	if err != nil {
		util.Fatal("failed to init login rate limiter", "err", err)
	}

	httpServer := server.New(server.Config{
		App:          appCore,
		SendLimiter:  sendLimiter,
		LoginLimiter: loginLimiter,
		Trusted:      trusted,
		AuthRequired: cfg.Auth.Required,
		CORSOrigins:  cfg.CORSOrigins,
	})

	addr := ":" + cfg.Port
	timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// image turns chain up to three provider calls
		WriteTimeout: 3*timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("assistant server listening", "addr", addr, "chatProvider", chat.Name(), "imageGeneration", images != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func buildProviders(cfg config.FileConfig) (ai.ChatProvider, ai.ImageGenerator, error) {
	timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	defaults := func(model string) ai.Defaults {
		return ai.Defaults{Model: model, Temperature: *cfg.DefaultTemperature, MaxTokens: cfg.MaxOutputTokens}
	}

	var openai *ai.OpenAIClient
	if cfg.OpenAIAPIKey != "" && (cfg.ChatProvider == "openai" || cfg.ImageProvider == "openai") {
		client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Defaults:   defaults(cfg.OpenAIModel),
			ImageModel: cfg.ImageModel,
			ImageSize:  cfg.ImageSize,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		openai = client
	}

	var chat ai.ChatProvider
	switch cfg.ChatProvider {
	case "openai":
		chat = openai
	default:
		client, err := ai.NewAnthropicClient(ai.AnthropicConfig{
			APIKey:   cfg.AnthropicAPIKey,
			BaseURL:  cfg.AnthropicBaseURL,
			Defaults: defaults(cfg.AnthropicModel),
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		chat = client
	}

	var images ai.ImageGenerator
	if cfg.ImageProvider == "openai" {
		images = openai
	}
	return chat, images, nil
}

// buildRecorder writes telemetry synchronously, or through the Redis stream
// outbox with a consumer running until ctx is done.
func buildRecorder(ctx context.Context, cfg config.FileConfig, st *store.GormStore, client *redis.Client, logger *slog.Logger) (*telemetry.Recorder, error) {
	if !cfg.TelemetryAsync {
		return telemetry.NewRecorder(st, telemetry.WithRecorderLogger(logger)), nil
	}
	q, err := queue.NewRedisEventQueue(client, queue.RedisQueueConfig{
		Stream: cfg.TelemetryStream,
		Group:  "telemetry-writers",
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	consumer := telemetry.NewRecorder(st, telemetry.WithRecorderLogger(logger))
	q.Start(ctx, 1, consumer.Consume)
	logger.Info("telemetry outbox enabled", "stream", cfg.TelemetryStream)
	return telemetry.NewRecorder(st, telemetry.WithOutbox(q), telemetry.WithRecorderLogger(logger)), nil
}

func buildSessions(cfg config.FileConfig, client *redis.Client, logger *slog.Logger) (*auth.SessionIssuer, error) {
	secret := cfg.Auth.SessionSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("auth.sessionSecret not set; sessions will not survive a restart")
	}
	return auth.NewSessionIssuer(auth.SessionConfig{
		Secret: secret,
		TTL:    config.MustDuration(cfg.Auth.SessionTTL),
	}, auth.NewRedisTokenRevoker(client))
}

// optionalLimiter returns nil when perMinute is negative.
func optionalLimiter(client *redis.Client, prefix string, perMinute int) (*ratelimit.FixedWindowLimiter, error) {
	if perMinute < 0 {
		return nil, nil
	}
	return ratelimit.NewFixedWindowLimiter(client, prefix, perMinute, time.Minute)
}

// hashPassword reads a password from stdin and prints its bcrypt hash for
// auth.passwordHash.
func hashPassword() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
