package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marefa/internal/util"
	"marefa/pkg/ai"
	"marefa/pkg/auth"
	"marefa/pkg/billing"
	"marefa/pkg/domain"
	"marefa/pkg/storage"
	"marefa/pkg/store"
)

const defaultGenerationTimeout = 60 * time.Second

// Config holds runtime configuration for the core application.
type Config struct {
	Store     store.Store
	Sessions  store.SessionStore
	Completer ai.ChatCompleter
	Objects   storage.ObjectStore

	// Billing may be nil when payments are not configured; the billing
	// operations then fail with ErrBillingUnavailable.
	Billing               billing.Provider
	Plans                 billing.Plans
	PublishableKey        string
	OptimisticTierUpgrade bool

	GenerationTimeout time.Duration
}

// App wires storage, sessions, the language model and billing together.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	completer  ai.ChatCompleter
	objects    storage.ObjectStore
	billing    billing.Provider
	plans      billing.Plans
	publishKey string
	optimistic bool
	genTimeout time.Duration
	now        func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("chat completer required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &App{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		completer:  cfg.Completer,
		objects:    cfg.Objects,
		billing:    cfg.Billing,
		plans:      cfg.Plans,
		publishKey: cfg.PublishableKey,
		optimistic: cfg.OptimisticTierUpgrade,
		genTimeout: timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping reports whether the database answers.
func (a *App) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// EnsureAdmin creates the bootstrap administrator when no account with
// email exists yet. Existing accounts are left untouched.
func (a *App) EnsureAdmin(email, username, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}
	if _, ok, err := a.store.GetUserByEmail(email); err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	} else if ok {
		return nil
	}
	if err := auth.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}
	if strings.TrimSpace(username) == "" {
		username = "admin"
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	now := a.now()
	admin := domain.User{
		ID:               util.NewID(),
		Username:         strings.TrimSpace(username),
		Email:            email,
		PasswordHash:     hash,
		Role:             domain.RoleAdmin,
		SubscriptionTier: domain.TierTeams,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.CreateUser(admin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("bootstrap admin username %q already taken", admin.Username)
		}
		return fmt.Errorf("create admin: %w", err)
	}
	slog.Info("bootstrap admin created", "user_id", admin.ID, "email", admin.Email)
	return nil
}
