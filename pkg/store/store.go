package store

import (
	"context"
	"errors"

	"marefa/pkg/domain"
)

var (
	// ErrNotFound is returned by mutations whose target row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique column (email, username,
	// stripe customer) already holds the value.
	ErrDuplicate = errors.New("duplicate record")
	// ErrQuotaCeiling is returned by AppendUserMessage when the sender has
	// already used the allowance passed in UserMessageOptions. Nothing is
	// written in that case.
	ErrQuotaCeiling = errors.New("message ceiling reached")
)

// UserMessageOptions carries the limits enforced atomically while a user
// message is stored.
type UserMessageOptions struct {
	// UserID is the authenticated sender. Empty for guests.
	UserID string
	// Ceiling is the sender's lifetime limit. Zero means unlimited.
	Ceiling int64
	// GuestCeiling is the per-chat limit of user messages for guest senders.
	GuestCeiling int64
	// Title is applied to the chat only when it has none yet.
	Title string
}

// BillingEvent is a verified webhook event and the tier change it carries.
type BillingEvent struct {
	ID      string
	Type    string
	Payload []byte
	// UserID and Tier are empty when the event changes no account.
	UserID string
	Tier   *domain.SubscriptionTier
}

// Store defines persistence operations for users, chats, messages,
// documents and billing events.
type Store interface {
	// users
	CreateUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByStripeCustomerID(customerID string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UpdateUserAccess(id string, role *domain.UserRole, tier *domain.SubscriptionTier) (domain.User, error)
	SetStripeCustomerID(userID, customerID string) error
	SetStripeSubscription(userID, subscriptionID string, tier *domain.SubscriptionTier) error

	// chats
	CreateChat(domain.ChatSession) error
	GetChat(id string) (domain.ChatSession, bool, error)
	ListChatsByUser(userID string) ([]domain.ChatSession, error)
	ListChats() ([]domain.ChatSession, error)
	RenameChat(id, title string) (domain.ChatSession, error)
	SwitchCategory(id string, category domain.Category, notice domain.Message) (domain.ChatSession, error)
	DeleteChat(id string) error

	// messages
	AppendMessage(domain.Message) error
	AppendUserMessage(msg domain.Message, opts UserMessageOptions) error
	ListMessages(chatID string) ([]domain.Message, error)
	LastMessage(chatID string) (domain.Message, bool, error)
	CountUserMessages(chatID string) (int64, error)

	// documents
	CreateDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocuments() ([]domain.Document, error)
	DeleteDocument(id string) error

	// billing
	ApplyBillingEvent(BillingEvent) (bool, error)

	Ping(ctx context.Context) error
}

// SessionStore persists login sessions.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
