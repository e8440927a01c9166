package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"marefa/internal/util"
	"marefa/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_busy_timeout=5000&_foreign_keys=on"
	s, err := NewGormStoreWithDialector(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sqlDB, err := s.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return s
}

func mustCreateUser(t *testing.T, s *GormStore, username string, tier domain.SubscriptionTier) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{
		ID:               util.NewID(),
		Username:         username,
		Email:            username + "@example.com",
		PasswordHash:     "hash",
		Role:             domain.RoleUser,
		SubscriptionTier: tier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func mustCreateChat(t *testing.T, s *GormStore, owner *string) domain.ChatSession {
	t.Helper()
	now := time.Now().UTC()
	c := domain.ChatSession{ID: util.NewID(), UserID: owner, Category: domain.CategoryAhkam, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateChat(c); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func newMessage(chatID string, sender domain.Sender, content string) domain.Message {
	return domain.Message{ID: util.NewID(), ChatID: chatID, Sender: sender, Content: content, CreatedAt: time.Now().UTC()}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "amina", domain.TierFree)

	dupEmail := u
	dupEmail.ID = util.NewID()
	dupEmail.Username = "other"
	dupEmail.Email = "AMINA@example.com"
	if err := s.CreateUser(dupEmail); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}
	dupName := u
	dupName.ID = util.NewID()
	dupName.Email = "x@example.com"
	if err := s.CreateUser(dupName); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for username, got %v", err)
	}
	if users, _ := s.ListUsers(); len(users) != 1 {
		t.Fatalf("user count = %d, want 1", len(users))
	}
	got, ok, err := s.GetUserByEmail(" Amina@Example.com ")
	if err != nil || !ok || got.ID != u.ID {
		t.Fatalf("lookup by email: %v %v %+v", ok, err, got)
	}
	if got.SubscriptionTier != domain.TierFree || got.MessageCount != 0 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestUpdateUserAccessAndBillingRefs(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "bilal", domain.TierFree)

	tier := domain.TierResearch
	updated, err := s.UpdateUserAccess(u.ID, nil, &tier)
	if err != nil {
		t.Fatalf("update access: %v", err)
	}
	if updated.SubscriptionTier != domain.TierResearch || updated.Role != domain.RoleUser {
		t.Fatalf("unexpected user after update: %+v", updated)
	}
	if _, err := s.UpdateUserAccess("missing", nil, &tier); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetStripeCustomerID(u.ID, "cus_123"); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	basic := domain.TierBasic
	if err := s.SetStripeSubscription(u.ID, "sub_123", &basic); err != nil {
		t.Fatalf("set subscription: %v", err)
	}
	got, ok, err := s.GetUserByStripeCustomerID("cus_123")
	if err != nil || !ok {
		t.Fatalf("lookup by customer: %v %v", ok, err)
	}
	if got.StripeSubscriptionID == nil || *got.StripeSubscriptionID != "sub_123" || got.SubscriptionTier != domain.TierBasic {
		t.Fatalf("billing refs not stored: %+v", got)
	}
}

func TestListMessagesIsChronological(t *testing.T) {
	s := newTestStore(t)
	chat := mustCreateChat(t, s, nil)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		m := newMessage(chat.ID, domain.SenderUser, c)
		// identical timestamps fall back to the time-ordered id
		m.CreatedAt = ts
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := s.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Content != contents[i] {
			t.Fatalf("msgs[%d] = %q, want %q", i, m.Content, contents[i])
		}
	}
	last, ok, err := s.LastMessage(chat.ID)
	if err != nil || !ok || last.Content != "third" {
		t.Fatalf("last message = %+v %v %v", last, ok, err)
	}
}

func TestAppendUserMessageEnforcesLifetimeCeiling(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "chafik", domain.TierFree)
	chat := mustCreateChat(t, s, &u.ID)
	opts := UserMessageOptions{UserID: u.ID, Ceiling: 2, Title: "hello"}

	for i := 0; i < 2; i++ {
		if err := s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "hi"), opts); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	err := s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "one too many"), opts)
	if !errors.Is(err, ErrQuotaCeiling) {
		t.Fatalf("expected ErrQuotaCeiling, got %v", err)
	}
	got, _, _ := s.GetUserByID(u.ID)
	if got.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", got.MessageCount)
	}
	msgs, _ := s.ListMessages(chat.ID)
	if len(msgs) != 2 {
		t.Fatalf("rejected message was stored: %d messages", len(msgs))
	}
	c, _, _ := s.GetChat(chat.ID)
	if c.Title == nil || *c.Title != "hello" {
		t.Fatalf("title not set from first message: %+v", c.Title)
	}
}

func TestAppendUserMessageKeepsExistingTitle(t *testing.T) {
	s := newTestStore(t)
	chat := mustCreateChat(t, s, nil)
	if err := s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "a"), UserMessageOptions{Title: "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "b"), UserMessageOptions{Title: "second"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	c, _, _ := s.GetChat(chat.ID)
	if c.Title == nil || *c.Title != "first" {
		t.Fatalf("title = %v, want first", c.Title)
	}
}

func TestAppendUserMessageConcurrentCeiling(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "dalia", domain.TierFree)
	chat := mustCreateChat(t, s, &u.ID)
	opts := UserMessageOptions{UserID: u.ID, Ceiling: 1}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "race"), opts)
		}(i)
	}
	wg.Wait()
	okCount := 0
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrQuotaCeiling):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 {
		t.Fatalf("accepted %d messages, want 1", okCount)
	}
	got, _, _ := s.GetUserByID(u.ID)
	if got.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1", got.MessageCount)
	}
}

func TestAppendUserMessageGuestCeiling(t *testing.T) {
	s := newTestStore(t)
	chat := mustCreateChat(t, s, nil)
	opts := UserMessageOptions{GuestCeiling: 2}
	for i := 0; i < 2; i++ {
		if err := s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "q"), opts); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if err := s.AppendMessage(newMessage(chat.ID, domain.SenderAI, "a")); err != nil {
			t.Fatalf("append ai: %v", err)
		}
	}
	if err := s.AppendUserMessage(newMessage(chat.ID, domain.SenderUser, "q"), opts); !errors.Is(err, ErrQuotaCeiling) {
		t.Fatalf("expected ErrQuotaCeiling, got %v", err)
	}
	if n, _ := s.CountUserMessages(chat.ID); n != 2 {
		t.Fatalf("user messages = %d, want 2", n)
	}
}

func TestAppendUserMessageMissingChat(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendUserMessage(newMessage("nope", domain.SenderUser, "hi"), UserMessageOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSwitchCategoryAppendsNotice(t *testing.T) {
	s := newTestStore(t)
	chat := mustCreateChat(t, s, nil)
	notice := newMessage("", domain.SenderAI, "switched")
	notice.CreatedAt = chat.UpdatedAt.Add(time.Second)
	updated, err := s.SwitchCategory(chat.ID, domain.CategorySukoon, notice)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if updated.Category != domain.CategorySukoon || !updated.UpdatedAt.After(chat.UpdatedAt) {
		t.Fatalf("unexpected chat: %+v", updated)
	}
	msgs, _ := s.ListMessages(chat.ID)
	if len(msgs) != 1 || msgs[0].Sender != domain.SenderAI {
		t.Fatalf("notice not stored: %+v", msgs)
	}
	if _, err := s.SwitchCategory("missing", domain.CategorySukoon, newMessage("", domain.SenderAI, "x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChatRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	chat := mustCreateChat(t, s, nil)
	if err := s.AppendMessage(newMessage(chat.ID, domain.SenderUser, "hi")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.DeleteChat(chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetChat(chat.ID); ok {
		t.Fatalf("chat still present")
	}
	msgs, _ := s.ListMessages(chat.ID)
	if len(msgs) != 0 {
		t.Fatalf("messages survived delete: %d", len(msgs))
	}
	if err := s.DeleteChat(chat.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListChatsByUserOrdersByActivity(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "eman", domain.TierBasic)
	older := mustCreateChat(t, s, &u.ID)
	newer := mustCreateChat(t, s, &u.ID)
	_ = mustCreateChat(t, s, nil)

	m := newMessage(older.ID, domain.SenderUser, "bump")
	m.CreatedAt = time.Now().UTC().Add(time.Minute)
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("append: %v", err)
	}
	chats, err := s.ListChatsByUser(u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != older.ID || chats[1].ID != newer.ID {
		t.Fatalf("unexpected order: %+v", chats)
	}
	all, _ := s.ListChats()
	if len(all) != 3 {
		t.Fatalf("all chats = %d, want 3", len(all))
	}
}

func TestDocumentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	admin := mustCreateUser(t, s, "admin", domain.TierTeams)
	now := time.Now().UTC()
	doc := domain.Document{
		ID: util.NewID(), Title: "Riyad as-Salihin", Author: "An-Nawawi", Category: "hadith",
		FileKey: "documents/x.pdf", FileName: "x.pdf", FileType: "application/pdf", SizeBytes: 10,
		PageCount: 3, UploadedByID: admin.ID, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateDocument(doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok, err := s.GetDocument(doc.ID)
	if err != nil || !ok || got.PageCount != 3 || got.FileKey != doc.FileKey {
		t.Fatalf("get: %+v %v %v", got, ok, err)
	}
	list, _ := s.ListDocuments()
	if len(list) != 1 {
		t.Fatalf("list = %d", len(list))
	}
	if err := s.DeleteDocument(doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteDocument(doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failUserUpdates makes every UPDATE on db fail until the returned func runs.
func failUserUpdates(t *testing.T, db *gorm.DB) func() {
	t.Helper()
	const name = "marefa:test_fail_update"
	err := db.Callback().Update().Before("gorm:update").Register(name, func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("connection reset"))
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	var once sync.Once
	restore := func() { once.Do(func() { _ = db.Callback().Update().Remove(name) }) }
	t.Cleanup(restore)
	return restore
}

func TestApplyBillingEventIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "hafsa", domain.TierFree)
	teams := domain.TierTeams
	ev := BillingEvent{ID: "evt_1", Type: "customer.subscription.updated", Payload: []byte(`{"id":"evt_1"}`), UserID: u.ID, Tier: &teams}

	first, err := s.ApplyBillingEvent(ev)
	if err != nil || !first {
		t.Fatalf("first apply = %v %v", first, err)
	}
	got, _, _ := s.GetUserByID(u.ID)
	if got.SubscriptionTier != domain.TierTeams {
		t.Fatalf("tier = %s", got.SubscriptionTier)
	}

	free := domain.TierFree
	ev.Tier = &free
	again, err := s.ApplyBillingEvent(ev)
	if err != nil || again {
		t.Fatalf("second apply = %v %v", again, err)
	}
	if got, _, _ := s.GetUserByID(u.ID); got.SubscriptionTier != domain.TierTeams {
		t.Fatalf("duplicate event changed tier to %s", got.SubscriptionTier)
	}

	if fresh, err := s.ApplyBillingEvent(BillingEvent{ID: "evt_2", Type: "invoice.paid", Payload: []byte(`{"id":"evt_2"}`)}); err != nil || !fresh {
		t.Fatalf("event without tier change = %v %v", fresh, err)
	}
	if fresh, err := s.ApplyBillingEvent(BillingEvent{ID: "evt_3", Type: "customer.subscription.updated", Payload: []byte(`{"id":"evt_3"}`), UserID: "gone", Tier: &free}); err != nil || !fresh {
		t.Fatalf("event for a removed user = %v %v", fresh, err)
	}
}

func TestApplyBillingEventRollsBackOnFailedTierWrite(t *testing.T) {
	s := newTestStore(t)
	u := mustCreateUser(t, s, "zaynab", domain.TierFree)
	research := domain.TierResearch
	ev := BillingEvent{ID: "evt_r", Type: "customer.subscription.updated", Payload: []byte(`{"id":"evt_r"}`), UserID: u.ID, Tier: &research}

	restore := failUserUpdates(t, s.DB())
	if fresh, err := s.ApplyBillingEvent(ev); err == nil || fresh {
		t.Fatalf("expected failed apply, got %v %v", fresh, err)
	}
	restore()

	var recorded int64
	if err := s.DB().Model(&BillingEventModel{}).Where("id = ?", ev.ID).Count(&recorded).Error; err != nil || recorded != 0 {
		t.Fatalf("event row kept after rollback: %d %v", recorded, err)
	}
	fresh, err := s.ApplyBillingEvent(ev)
	if err != nil || !fresh {
		t.Fatalf("redelivery = %v %v", fresh, err)
	}
	if got, _, _ := s.GetUserByID(u.ID); got.SubscriptionTier != domain.TierResearch {
		t.Fatalf("tier after redelivery = %s", got.SubscriptionTier)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	sqlDB, _ := s.DB().DB()
	_ = sqlDB.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail on a closed database")
	}
}
