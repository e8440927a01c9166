package app

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"marefa/internal/util"
	"marefa/pkg/auth"
	"marefa/pkg/domain"
	"marefa/pkg/store"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Register creates a free-tier user and opens a session for them.
func (a *App) Register(email, password, username string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return domain.User{}, "", invalidf("a valid email address is required")
	}
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return domain.User{}, "", invalidf("username must be between %d and %d characters", minUsernameLen, maxUsernameLen)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", invalidf("%s", err.Error())
	}

	if _, ok, err := a.store.GetUserByEmail(email); err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	} else if ok {
		return domain.User{}, "", ErrDuplicateEmail
	}
	if _, ok, err := a.store.GetUserByUsername(username); err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	} else if ok {
		return domain.User{}, "", ErrDuplicateUsername
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	user := domain.User{
		ID:               util.NewID(),
		Username:         username,
		Email:            email,
		PasswordHash:     hash,
		Role:             domain.RoleUser,
		SubscriptionTier: domain.TierFree,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, "", a.duplicateCause(email)
		}
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// duplicateCause decides which unique column a concurrent insert collided on.
func (a *App) duplicateCause(email string) error {
	if _, ok, err := a.store.GetUserByEmail(email); err == nil && ok {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}

// Login checks credentials and opens a session.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout destroys the session behind token. Unknown tokens are ignored.
func (a *App) Logout(token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UserFromToken resolves the current user from a session token. The user is
// re-read on every call so tier, role and counter are current. Unknown or
// expired tokens report false; a failing session or user lookup returns
// ErrSessionUnavailable rather than treating the caller as a guest.
func (a *App) UserFromToken(token string) (domain.User, bool, error) {
	if token == "" {
		return domain.User{}, false, nil
	}
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if !ok {
		return domain.User{}, false, nil
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return user, found, nil
}
