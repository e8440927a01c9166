package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                   string  `gorm:"primaryKey"`
	Username             string  `gorm:"uniqueIndex;not null"`
	Email                string  `gorm:"uniqueIndex;not null"`
	PasswordHash         string  `gorm:"not null"`
	Role                 string  `gorm:"not null;default:user"`
	SubscriptionTier     string  `gorm:"not null;default:free"`
	MessageCount         int64   `gorm:"not null;default:0"`
	StripeCustomerID     *string `gorm:"uniqueIndex"`
	StripeSubscriptionID *string
	CreatedAt            time.Time `gorm:"not null;index"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ChatSessionModel struct {
	ID        string     `gorm:"primaryKey"`
	UserID    *string    `gorm:"index"`
	User      *UserModel `gorm:"foreignKey:UserID"`
	Title     *string
	Category  string    `gorm:"not null;default:ahkam"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

func (ChatSessionModel) TableName() string { return "chat_sessions" }

type MessageModel struct {
	ID        string            `gorm:"primaryKey"`
	ChatID    string            `gorm:"not null;index:idx_messages_chat_created,priority:1"`
	Chat      *ChatSessionModel `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
	Content   string            `gorm:"type:text;not null"`
	Sender    string            `gorm:"not null"`
	CreatedAt time.Time         `gorm:"not null;index:idx_messages_chat_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

type DocumentModel struct {
	ID           string     `gorm:"primaryKey"`
	Title        string     `gorm:"not null"`
	Author       string     `gorm:"not null"`
	Category     string     `gorm:"not null"`
	Description  string     `gorm:"type:text"`
	FileKey      string     `gorm:"not null"`
	FileName     string     `gorm:"not null"`
	FileType     string     `gorm:"not null"`
	SizeBytes    int64      `gorm:"not null"`
	PageCount    int        `gorm:"not null;default:0"`
	Excerpt      string     `gorm:"type:text"`
	UploadedByID string     `gorm:"not null;index"`
	UploadedBy   *UserModel `gorm:"foreignKey:UploadedByID"`
	CreatedAt    time.Time  `gorm:"not null;index"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

// BillingEventModel records processed webhook deliveries by provider event id.
type BillingEventModel struct {
	ID        string         `gorm:"primaryKey"`
	Type      string         `gorm:"not null;index"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (BillingEventModel) TableName() string { return "billing_events" }
