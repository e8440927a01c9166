package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"marefa/internal/util"
	"marefa/pkg/docinspect"
	"marefa/pkg/domain"
	"marefa/pkg/storage"
	"marefa/pkg/store"
)

const (
	overviewConcurrency = 8
	maxDocFieldRunes    = 200
	maxDescriptionRunes = 2000
)

// ListUsers returns every account, newest first.
func (a *App) ListUsers() ([]domain.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// AdminUpdateUser changes a user's role and/or subscription tier. An admin
// cannot change their own role.
func (a *App) AdminUpdateUser(admin domain.User, userID string, role, tier *string) (domain.User, error) {
	if role == nil && tier == nil {
		return domain.User{}, invalidf("role or subscriptionTier is required")
	}
	var rolePtr *domain.UserRole
	if role != nil {
		parsed, ok := domain.ParseUserRole(*role)
		if !ok {
			return domain.User{}, invalidf("Invalid role")
		}
		rolePtr = &parsed
	}
	var tierPtr *domain.SubscriptionTier
	if tier != nil {
		parsed, ok := domain.ParseTier(*tier)
		if !ok {
			return domain.User{}, invalidf("Invalid subscription tier")
		}
		tierPtr = &parsed
	}
	if userID == admin.ID && rolePtr != nil && *rolePtr != admin.Role {
		return domain.User{}, ErrOwnRole
	}
	updated, err := a.store.UpdateUserAccess(userID, rolePtr, tierPtr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

// OwnerSummary identifies a chat owner in the admin overview.
type OwnerSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ChatOverview is one row of the admin chat listing.
type ChatOverview struct {
	domain.ChatSession
	Owner       *OwnerSummary   `json:"owner,omitempty"`
	LastMessage *domain.Message `json:"lastMessage,omitempty"`
}

// ListAllChats returns every chat with its owner and latest message.
func (a *App) ListAllChats(ctx context.Context) ([]ChatOverview, error) {
	chats, err := a.store.ListChats()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	owners := make(map[string]*OwnerSummary, len(users))
	for _, u := range users {
		owners[u.ID] = &OwnerSummary{ID: u.ID, Username: u.Username, Email: u.Email}
	}

	out := make([]ChatOverview, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewConcurrency)
	for i, chat := range chats {
		out[i].ChatSession = chat
		if chat.UserID != nil {
			out[i].Owner = owners[*chat.UserID]
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			msg, ok, err := a.store.LastMessage(chat.ID)
			if err != nil {
				return fmt.Errorf("last message of %s: %w", chat.ID, err)
			}
			if ok {
				out[i].LastMessage = &msg
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDocuments returns the research catalogue, newest first.
func (a *App) ListDocuments() ([]domain.Document, error) {
	docs, err := a.store.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UploadFile is the readable body of an uploaded document.
type UploadFile interface {
	io.ReaderAt
	io.ReadSeeker
}

// DocumentUpload carries an admin upload.
type DocumentUpload struct {
	Title       string
	Author      string
	Category    string
	Description string
	FileName    string
	ContentType string
	Size        int64
	File        UploadFile
}

// UploadDocument validates the file, stores it and records the document.
func (a *App) UploadDocument(ctx context.Context, admin domain.User, in DocumentUpload) (domain.Document, error) {
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.Author)
	category := strings.TrimSpace(in.Category)
	description := strings.TrimSpace(in.Description)
	if title == "" || author == "" || category == "" {
		return domain.Document{}, invalidf("title, author and category are required")
	}
	if utf8.RuneCountInString(title) > maxDocFieldRunes || utf8.RuneCountInString(author) > maxDocFieldRunes ||
		utf8.RuneCountInString(category) > maxDocFieldRunes {
		return domain.Document{}, invalidf("title, author and category must be at most %d characters", maxDocFieldRunes)
	}
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return domain.Document{}, invalidf("description must be at most %d characters", maxDescriptionRunes)
	}
	if in.File == nil {
		return domain.Document{}, invalidf("file is required")
	}

	contentType, err := docinspect.ResolveType(in.FileName, in.ContentType)
	if err != nil {
		return domain.Document{}, uploadError(err)
	}
	info, err := docinspect.Inspect(in.File, in.Size, contentType)
	if err != nil {
		return domain.Document{}, uploadError(err)
	}
	if _, err := in.File.Seek(0, io.SeekStart); err != nil {
		return domain.Document{}, fmt.Errorf("rewind upload: %w", err)
	}

	id := util.NewID()
	key := storage.ObjectKey(id, in.FileName)
	if err := a.objects.Put(ctx, key, in.File, in.Size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store file: %w", err)
	}
	now := a.now()
	doc := domain.Document{
		ID:           id,
		Title:        title,
		Author:       author,
		Category:     category,
		Description:  description,
		FileKey:      key,
		FileName:     in.FileName,
		FileType:     contentType,
		SizeBytes:    in.Size,
		PageCount:    info.PageCount,
		Excerpt:      info.Excerpt,
		UploadedByID: admin.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateDocument(doc); err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			util.LoggerFromContext(ctx).Warn("orphaned document file", "key", key, "err", delErr)
		}
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, docinspect.ErrUnsupportedType):
		return invalidf("Invalid file type. Only PDF, DOC, DOCX, and TXT files are allowed.")
	case errors.Is(err, docinspect.ErrTooLarge),
		errors.Is(err, docinspect.ErrEmptyFile),
		errors.Is(err, docinspect.ErrCorruptFile):
		return invalidf("%s", err.Error())
	default:
		return fmt.Errorf("inspect upload: %w", err)
	}
}

// OpenDocument streams a stored document file. The caller closes the reader.
func (a *App) OpenDocument(ctx context.Context, id string) (domain.Document, io.ReadCloser, error) {
	doc, err := a.getDocument(id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	rc, err := a.objects.Open(ctx, doc.FileKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return domain.Document{}, nil, ErrDocumentNotFound
		}
		return domain.Document{}, nil, fmt.Errorf("open document file: %w", err)
	}
	return doc, rc, nil
}

// DeleteDocument removes the document row and then its stored file.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	doc, err := a.getDocument(id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	if err := a.objects.Delete(ctx, doc.FileKey); err != nil {
		util.LoggerFromContext(ctx).Warn("delete document file failed", "key", doc.FileKey, "err", err)
	}
	return nil
}

func (a *App) getDocument(id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(strings.TrimSpace(id))
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}
