package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"marefa/internal/util"
	"marefa/pkg/ai"
	"marefa/pkg/billing"
	"marefa/pkg/storage"
	"marefa/pkg/store"
	"marefa/services/api/internal/app"
	"marefa/services/api/internal/config"
	"marefa/services/api/internal/server"
)

func main() {
	path := config.ConfigPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		util.Fatal("invalid session ttl", "err", err)
	}
	genTimeout, err := config.ParseDuration("generationTimeout", cfg.GenerationTimeout)
	if err != nil {
		util.Fatal("invalid generation timeout", "err", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		util.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}
	sessions, err := store.NewRedisSessionStore(redisClient, cfg.SessionSecret, sessionTTL)
	if err != nil {
		util.Fatal("failed to init session store", "err", err)
	}
	completer, err := ai.NewChatCompleter(ai.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
	})
	if err != nil {
		util.Fatal("failed to init llm provider", "err", err)
	}
	objects, err := newObjectStore(cfg)
	if err != nil {
		util.Fatal("failed to init object storage", "backend", cfg.StorageBackend, "err", err)
	}

	var payments billing.Provider
	if strings.TrimSpace(cfg.StripeSecretKey) != "" {
		payments, err = billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil)
		if err != nil {
			util.Fatal("failed to init billing", "err", err)
		}
	} else {
		logger.Warn("stripe secret key not set, billing endpoints disabled")
	}

	optimistic := true
	if cfg.OptimisticTierUpgrade != nil {
		optimistic = *cfg.OptimisticTierUpgrade
	}
	appCore, err := app.New(app.Config{
		Store:     dataStore,
		Sessions:  sessions,
		Completer: completer,
		Objects:   objects,
		Billing:   payments,
		Plans: billing.Plans{
			Basic:    cfg.StripePriceBasic,
			Research: cfg.StripePriceResearch,
			Teams:    cfg.StripePriceTeams,
		},
		PublishableKey:        cfg.StripePublishableKey,
		OptimisticTierUpgrade: optimistic,
		GenerationTimeout:     genTimeout,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	if err := appCore.EnsureAdmin(cfg.AdminEmail, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		util.Fatal("failed to bootstrap admin", "err", err)
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}
	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Redis:                    redisClient,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		SessionTTL:               sessionTTL,
		CookieSecure:             cfg.CookieSecure,
		CORSOrigins:              cfg.CORSOrigins,
		TrustedProxies:           proxies,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: genTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "minio":
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return storage.NewFileStore(cfg.UploadDir)
	}
}
