package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"marefa/pkg/domain"
)

const migrateLockID int64 = 62737301

// GormStore implements Store using GORM. Production runs on Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres database and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens any GORM dialector and runs auto-migrations.
// Concurrent migrations are serialised with an advisory lock on Postgres.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ChatSessionModel{}, &MessageModel{}, &DocumentModel{}, &BillingEventModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB returns the underlying gorm handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database answers.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// CreateUser inserts a new user. Unique violations map to ErrDuplicate.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return translateWriteError(s.db.Omit(clause.Associations).Create(&model).Error)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.findUser("id = ?", id)
}

// GetUserByEmail looks up a user by lower-cased email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.findUser("email = ?", strings.ToLower(strings.TrimSpace(email)))
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return s.findUser("username = ?", strings.TrimSpace(username))
}

// GetUserByStripeCustomerID resolves the user a billing customer belongs to.
func (s *GormStore) GetUserByStripeCustomerID(customerID string) (domain.User, bool, error) {
	return s.findUser("stripe_customer_id = ?", customerID)
}

func (s *GormStore) findUser(query string, args ...any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users, newest first.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpdateUserAccess changes role and/or tier and returns the updated user.
func (s *GormStore) UpdateUserAccess(id string, role *domain.UserRole, tier *domain.SubscriptionTier) (domain.User, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if role != nil {
		updates["role"] = string(*role)
	}
	if tier != nil {
		updates["subscription_tier"] = string(*tier)
	}
	res := s.db.Model(&UserModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.User{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, ErrNotFound
	}
	user, ok, err := s.GetUserByID(id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// SetStripeCustomerID stores the billing customer reference for a user.
func (s *GormStore) SetStripeCustomerID(userID, customerID string) error {
	res := s.db.Model(&UserModel{}).Where("id = ?", userID).Updates(map[string]any{
		"stripe_customer_id": customerID,
		"updated_at":         time.Now().UTC(),
	})
	if res.Error != nil {
		return translateWriteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStripeSubscription stores the subscription reference and, when tier is
// set, the tier it grants.
func (s *GormStore) SetStripeSubscription(userID, subscriptionID string, tier *domain.SubscriptionTier) error {
	updates := map[string]any{
		"stripe_subscription_id": subscriptionID,
		"updated_at":             time.Now().UTC(),
	}
	if tier != nil {
		updates["subscription_tier"] = string(*tier)
	}
	res := s.db.Model(&UserModel{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateChat inserts a new chat session.
func (s *GormStore) CreateChat(c domain.ChatSession) error {
	model := chatToModel(c)
	return s.db.Omit(clause.Associations).Create(&model).Error
}

// GetChat retrieves a chat.
func (s *GormStore) GetChat(id string) (domain.ChatSession, bool, error) {
	var model ChatSessionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChatSession{}, false, nil
		}
		return domain.ChatSession{}, false, err
	}
	return chatFromModel(model), true, nil
}

// ListChatsByUser returns a user's chats, most recently active first.
func (s *GormStore) ListChatsByUser(userID string) ([]domain.ChatSession, error) {
	return s.listChats("user_id = ?", userID)
}

// ListChats returns every chat, most recently active first.
func (s *GormStore) ListChats() ([]domain.ChatSession, error) {
	return s.listChats()
}

func (s *GormStore) listChats(conds ...any) ([]domain.ChatSession, error) {
	var models []ChatSessionModel
	tx := s.db.Order("updated_at DESC").Order("id DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatSession, 0, len(models))
	for _, m := range models {
		res = append(res, chatFromModel(m))
	}
	return res, nil
}

// RenameChat sets a chat title.
func (s *GormStore) RenameChat(id, title string) (domain.ChatSession, error) {
	res := s.db.Model(&ChatSessionModel{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return domain.ChatSession{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ChatSession{}, ErrNotFound
	}
	return s.mustGetChat(s.db, id)
}

// SwitchCategory changes the chat mode and appends notice in one transaction.
func (s *GormStore) SwitchCategory(id string, category domain.Category, notice domain.Message) (domain.ChatSession, error) {
	var out domain.ChatSession
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ChatSessionModel{}).Where("id = ?", id).Updates(map[string]any{
			"category":   string(category),
			"updated_at": notice.CreatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		notice.ChatID = id
		model := messageToModel(notice)
		if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
			return fmt.Errorf("insert notice: %w", err)
		}
		chat, err := s.mustGetChat(tx, id)
		if err != nil {
			return err
		}
		out = chat
		return nil
	})
	return out, err
}

// DeleteChat removes a chat and its messages.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&ChatSessionModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) mustGetChat(db *gorm.DB, id string) (domain.ChatSession, error) {
	var model ChatSessionModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChatSession{}, ErrNotFound
		}
		return domain.ChatSession{}, err
	}
	return chatFromModel(model), nil
}

// AppendMessage records a message and bumps the chat's updated_at.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return insertMessage(tx, msg, "")
	})
}

// AppendUserMessage stores a user-originated message. Within one transaction
// it locks the chat row, enforces the guest or lifetime ceiling, increments
// the sender's counter by one, inserts the message and touches the chat.
func (s *GormStore) AppendUserMessage(msg domain.Message, opts UserMessageOptions) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chat ChatSessionModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, "id = ?", msg.ChatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock chat: %w", err)
		}
		if opts.UserID == "" {
			if opts.GuestCeiling > 0 {
				var count int64
				if err := tx.Model(&MessageModel{}).
					Where("chat_id = ? AND sender = ?", msg.ChatID, string(domain.SenderUser)).
					Count(&count).Error; err != nil {
					return fmt.Errorf("count guest messages: %w", err)
				}
				if count >= opts.GuestCeiling {
					return ErrQuotaCeiling
				}
			}
		} else {
			q := tx.Model(&UserModel{}).Where("id = ?", opts.UserID)
			if opts.Ceiling > 0 {
				q = q.Where("message_count < ?", opts.Ceiling)
			}
			res := q.UpdateColumn("message_count", gorm.Expr("message_count + ?", 1))
			if res.Error != nil {
				return fmt.Errorf("increment message count: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrQuotaCeiling
			}
		}
		title := ""
		if chat.Title == nil {
			title = opts.Title
		}
		return insertMessage(tx, msg, title)
	})
}

func insertMessage(tx *gorm.DB, msg domain.Message, title string) error {
	model := messageToModel(msg)
	if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	updates := map[string]any{"updated_at": msg.CreatedAt}
	if title != "" {
		updates["title"] = title
	}
	res := tx.Model(&ChatSessionModel{}).Where("id = ?", msg.ChatID).UpdateColumns(updates)
	if res.Error != nil {
		return fmt.Errorf("touch chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns the full history of a chat in chronological order.
func (s *GormStore) ListMessages(chatID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// LastMessage returns the most recent message of a chat.
func (s *GormStore) LastMessage(chatID string) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// CountUserMessages counts user-originated messages in a chat.
func (s *GormStore) CountUserMessages(chatID string) (int64, error) {
	var count int64
	err := s.db.Model(&MessageModel{}).
		Where("chat_id = ? AND sender = ?", chatID, string(domain.SenderUser)).
		Count(&count).Error
	return count, err
}

// CreateDocument inserts document metadata.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Omit(clause.Associations).Create(&model).Error
}

// GetDocument retrieves document metadata.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns all documents, newest first.
func (s *GormStore) ListDocuments() ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes document metadata.
func (s *GormStore) DeleteDocument(id string) error {
	res := s.db.Delete(&DocumentModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyBillingEvent records a webhook event id and applies its tier change
// in one transaction. It reports false, writing nothing, when the id was
// already recorded. A failed tier write leaves the id unrecorded so the
// redelivery is applied.
func (s *GormStore) ApplyBillingEvent(ev BillingEvent) (bool, error) {
	fresh := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model := BillingEventModel{
			ID:        ev.ID,
			Type:      ev.Type,
			Payload:   datatypes.JSON(ev.Payload),
			CreatedAt: time.Now().UTC(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		fresh = true
		if ev.UserID == "" || ev.Tier == nil {
			return nil
		}
		// A user removed since the lookup has nothing left to update.
		return tx.Model(&UserModel{}).Where("id = ?", ev.UserID).Updates(map[string]any{
			"subscription_tier": string(*ev.Tier),
			"updated_at":        time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

func userToModel(u domain.User) UserModel {
	role := u.Role
	if role == "" {
		role = domain.RoleUser
	}
	tier := u.SubscriptionTier
	if tier == "" {
		tier = domain.TierFree
	}
	return UserModel{
		ID:                   u.ID,
		Username:             u.Username,
		Email:                strings.ToLower(strings.TrimSpace(u.Email)),
		PasswordHash:         u.PasswordHash,
		Role:                 string(role),
		SubscriptionTier:     string(tier),
		MessageCount:         u.MessageCount,
		StripeCustomerID:     u.StripeCustomerID,
		StripeSubscriptionID: u.StripeSubscriptionID,
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:                   m.ID,
		Username:             m.Username,
		Email:                m.Email,
		PasswordHash:         m.PasswordHash,
		Role:                 domain.UserRole(m.Role),
		SubscriptionTier:     domain.SubscriptionTier(m.SubscriptionTier),
		MessageCount:         m.MessageCount,
		StripeCustomerID:     m.StripeCustomerID,
		StripeSubscriptionID: m.StripeSubscriptionID,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func chatToModel(c domain.ChatSession) ChatSessionModel {
	category := c.Category
	if category == "" {
		category = domain.CategoryAhkam
	}
	return ChatSessionModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Category:  string(category),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func chatFromModel(m ChatSessionModel) domain.ChatSession {
	return domain.ChatSession{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Category:  domain.Category(m.Category),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Content:   msg.Content,
		Sender:    string(msg.Sender),
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Content:   m.Content,
		Sender:    domain.Sender(m.Sender),
		CreatedAt: m.CreatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		Title:        d.Title,
		Author:       d.Author,
		Category:     d.Category,
		Description:  d.Description,
		FileKey:      d.FileKey,
		FileName:     d.FileName,
		FileType:     d.FileType,
		SizeBytes:    d.SizeBytes,
		PageCount:    d.PageCount,
		Excerpt:      d.Excerpt,
		UploadedByID: d.UploadedByID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		Title:        m.Title,
		Author:       m.Author,
		Category:     m.Category,
		Description:  m.Description,
		FileKey:      m.FileKey,
		FileName:     m.FileName,
		FileType:     m.FileType,
		SizeBytes:    m.SizeBytes,
		PageCount:    m.PageCount,
		Excerpt:      m.Excerpt,
		UploadedByID: m.UploadedByID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
