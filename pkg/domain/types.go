package domain

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// SubscriptionTier is the paid plan a user is on. Free is the default.
type SubscriptionTier string

const (
	TierFree     SubscriptionTier = "free"
	TierBasic    SubscriptionTier = "basic"
	TierResearch SubscriptionTier = "research"
	TierTeams    SubscriptionTier = "teams"
)

// Category selects the assistant persona of a chat.
type Category string

const (
	CategoryAhkam    Category = "ahkam"
	CategorySukoon   Category = "sukoon"
	CategoryResearch Category = "research"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type User struct {
	ID                   string           `json:"id"`
	Username             string           `json:"username"`
	Email                string           `json:"email"`
	PasswordHash         string           `json:"-"`
	Role                 UserRole         `json:"role"`
	SubscriptionTier     SubscriptionTier `json:"subscriptionTier"`
	MessageCount         int64            `json:"messageCount"`
	StripeCustomerID     *string          `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string          `json:"stripeSubscriptionId,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ChatSession is a conversation. A nil UserID marks a guest chat.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId"`
	Title     *string   `json:"title"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsGuest reports whether the chat was created without an owner.
func (c ChatSession) IsGuest() bool {
	return c.UserID == nil
}

// OwnedBy reports whether userID owns the chat.
func (c ChatSession) OwnedBy(userID string) bool {
	return c.UserID != nil && *c.UserID == userID
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is a reference file uploaded by an admin for research mode.
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Category     string    `json:"category"`
	Description  string    `json:"description"`
	FileKey      string    `json:"fileKey"`
	FileName     string    `json:"fileName"`
	FileType     string    `json:"fileType"`
	SizeBytes    int64     `json:"sizeBytes"`
	PageCount    int       `json:"pageCount,omitempty"`
	Excerpt      string    `json:"excerpt,omitempty"`
	UploadedByID string    `json:"uploadedById"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ParseCategory accepts the three chat modes, case-insensitively.
func ParseCategory(raw string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryAhkam, CategorySukoon, CategoryResearch:
		return c, true
	default:
		return "", false
	}
}

func ParseTier(raw string) (SubscriptionTier, bool) {
	switch t := SubscriptionTier(strings.ToLower(strings.TrimSpace(raw))); t {
	case TierFree, TierBasic, TierResearch, TierTeams:
		return t, true
	default:
		return "", false
	}
}

func ParseUserRole(raw string) (UserRole, bool) {
	switch r := UserRole(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleUser, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}
