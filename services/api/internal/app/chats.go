package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"marefa/internal/util"
	"marefa/pkg/ai"
	"marefa/pkg/domain"
	"marefa/pkg/quota"
	"marefa/pkg/store"
)

const (
	maxMessageRunes = 8000
	maxTitleRunes   = 100
)

// CreateChat opens a chat. requester is nil for guests; guest chats have no
// owner and may be used by anyone holding the id.
func (a *App) CreateChat(requester *domain.User, category string) (domain.ChatSession, error) {
	cat := domain.CategoryAhkam
	if strings.TrimSpace(category) != "" {
		parsed, ok := domain.ParseCategory(category)
		if !ok {
			return domain.ChatSession{}, invalidf("Invalid category")
		}
		cat = parsed
	}
	if requester != nil && !quota.CanUseCategory(requester.SubscriptionTier, cat) {
		return domain.ChatSession{}, ErrTierInsufficient
	}
	now := a.now()
	chat := domain.ChatSession{
		ID:        util.NewID(),
		Category:  cat,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if requester != nil {
		owner := requester.ID
		chat.UserID = &owner
	}
	if err := a.store.CreateChat(chat); err != nil {
		return domain.ChatSession{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// GetChat returns a chat the requester may access.
func (a *App) GetChat(chatID string, requester *domain.User) (domain.ChatSession, error) {
	return a.loadChat(chatID, requester)
}

// ListChats returns the user's chats, most recently active first.
func (a *App) ListChats(user domain.User) ([]domain.ChatSession, error) {
	chats, err := a.store.ListChatsByUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// ListMessages returns the chat history in chronological order.
func (a *App) ListMessages(chatID string, requester *domain.User) ([]domain.Message, error) {
	if _, err := a.loadChat(chatID, requester); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// UpdateChat renames a chat and/or switches its mode. A switch appends a
// transition notice from the assistant without calling the model.
func (a *App) UpdateChat(chatID string, requester *domain.User, title, category *string) (domain.ChatSession, error) {
	if title == nil && category == nil {
		return domain.ChatSession{}, invalidf("title or category is required")
	}
	chat, err := a.loadChat(chatID, requester)
	if err != nil {
		return domain.ChatSession{}, err
	}

	var newTitle string
	if title != nil {
		newTitle = strings.Join(strings.Fields(*title), " ")
		if newTitle == "" {
			return domain.ChatSession{}, invalidf("title must not be empty")
		}
		if utf8.RuneCountInString(newTitle) > maxTitleRunes {
			newTitle = string([]rune(newTitle)[:maxTitleRunes])
		}
	}
	var newCategory domain.Category
	if category != nil {
		parsed, ok := domain.ParseCategory(*category)
		if !ok {
			return domain.ChatSession{}, invalidf("Invalid category")
		}
		if !chat.IsGuest() && !quota.CanUseCategory(requester.SubscriptionTier, parsed) {
			return domain.ChatSession{}, ErrTierInsufficient
		}
		newCategory = parsed
	}

	if title != nil {
		chat, err = a.store.RenameChat(chat.ID, newTitle)
		if err != nil {
			return domain.ChatSession{}, a.chatWriteError("rename chat", err)
		}
	}
	if category != nil && newCategory != chat.Category {
		notice := domain.Message{
			ID:        util.NewID(),
			ChatID:    chat.ID,
			Content:   switchNotice(newCategory),
			Sender:    domain.SenderAI,
			CreatedAt: a.now(),
		}
		chat, err = a.store.SwitchCategory(chat.ID, newCategory, notice)
		if err != nil {
			return domain.ChatSession{}, a.chatWriteError("switch category", err)
		}
	}
	return chat, nil
}

// DeleteChat removes a chat and its messages. Only the owner may delete.
func (a *App) DeleteChat(chatID string, user domain.User) error {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return ErrChatNotFound
	}
	if !chat.OwnedBy(user.ID) {
		return ErrChatForbidden
	}
	if err := a.store.DeleteChat(chatID); err != nil {
		return a.chatWriteError("delete chat", err)
	}
	return nil
}

// SendMessage stores a user turn, asks the model for a reply and stores the
// reply. The user turn stays stored when generation fails. An empty answer is
// replaced by a fixed apology.
func (a *App) SendMessage(ctx context.Context, chatID string, requester *domain.User, content, category string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, invalidf("Message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		return domain.Message{}, invalidf("message must be at most %d characters", maxMessageRunes)
	}
	if strings.TrimSpace(category) != "" {
		if _, ok := domain.ParseCategory(category); !ok {
			return domain.Message{}, invalidf("Invalid category")
		}
	}
	chat, err := a.loadChat(chatID, requester)
	if err != nil {
		return domain.Message{}, err
	}

	req := quota.Request{Category: chat.Category}
	opts := store.UserMessageOptions{Title: chatTitle(content)}
	if requester != nil {
		req.Authenticated = true
		req.Tier = requester.SubscriptionTier
		req.MessageCount = requester.MessageCount
		opts.UserID = requester.ID
		if ceiling, ok := quota.Ceiling(requester.SubscriptionTier); ok {
			opts.Ceiling = ceiling
		}
	} else {
		count, err := a.store.CountUserMessages(chat.ID)
		if err != nil {
			return domain.Message{}, fmt.Errorf("count guest messages: %w", err)
		}
		req.GuestMessages = count
		opts.GuestCeiling = quota.GuestMessageLimit
	}
	if err := quota.Evaluate(req); err != nil {
		return domain.Message{}, err
	}

	userMsg := domain.Message{
		ID:        util.NewID(),
		ChatID:    chat.ID,
		Content:   content,
		Sender:    domain.SenderUser,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendUserMessage(userMsg, opts); err != nil {
		switch {
		case errors.Is(err, store.ErrQuotaCeiling) && requester == nil:
			return domain.Message{}, ErrGuestLimitReached
		case errors.Is(err, store.ErrQuotaCeiling):
			return domain.Message{}, ErrQuotaExceeded
		}
		return domain.Message{}, a.chatWriteError("save message", err)
	}

	history, err := a.store.ListMessages(chat.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load history: %w", err)
	}
	var docs []domain.Document
	if chat.Category == domain.CategoryResearch {
		docs, err = a.store.ListDocuments()
		if err != nil {
			return domain.Message{}, fmt.Errorf("load documents: %w", err)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()
	reply, err := a.completer.Complete(genCtx, ai.ChatRequest{
		Messages:    buildPrompt(systemPrompt(chat.Category, docs), history),
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil && !errors.Is(err, ai.ErrEmptyCompletion) {
		util.LoggerFromContext(ctx).Error("generation failed", "chat_id", chat.ID, "err", err)
		return domain.Message{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		util.LoggerFromContext(ctx).Warn("empty completion, storing fallback reply", "chat_id", chat.ID)
		reply = fallbackReply
	}

	aiMsg := domain.Message{
		ID:        util.NewID(),
		ChatID:    chat.ID,
		Content:   reply,
		Sender:    domain.SenderAI,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendMessage(aiMsg); err != nil {
		return domain.Message{}, a.chatWriteError("save reply", err)
	}
	return aiMsg, nil
}

// loadChat fetches a chat and applies the ownership rule: owned chats are
// visible to their owner only, guest chats to anyone.
func (a *App) loadChat(chatID string, requester *domain.User) (domain.ChatSession, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.ChatSession{}, ErrChatNotFound
	}
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.ChatSession{}, ErrChatNotFound
	}
	if !chat.IsGuest() && (requester == nil || !chat.OwnedBy(requester.ID)) {
		return domain.ChatSession{}, ErrChatForbidden
	}
	return chat, nil
}

func (a *App) chatWriteError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrChatNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
