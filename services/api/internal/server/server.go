package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"marefa/internal/ratelimit"
	"marefa/internal/util"
	"marefa/pkg/docinspect"
	"marefa/pkg/domain"
	"marefa/services/api/internal/app"
)

// SessionCookieName holds the signed session token.
const SessionCookieName = "marefa_session"

const (
	defaultSessionTTL = 30 * 24 * time.Hour
	// multipart framing and text fields on top of the file itself
	uploadOverheadBytes = 1 << 20
	uploadMemoryBytes   = 16 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Redis                    redis.UniversalClient
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	SessionTTL               time.Duration
	CookieSecure             bool
	CORSOrigins              []string
	TrustedProxies           *util.TrustedProxies
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app           *app.App
	redis         redis.UniversalClient
	mux           *http.ServeMux
	sessionTTL    time.Duration
	cookieSecure  bool
	corsOrigins   []string
	proxies       *util.TrustedProxies
	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "marefa:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("register", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	s := &Server{
		app:           cfg.App,
		redis:         cfg.Redis,
		mux:           http.NewServeMux(),
		sessionTTL:    ttl,
		cookieSecure:  cfg.CookieSecure,
		corsOrigins:   cfg.CORSOrigins,
		proxies:       cfg.TrustedProxies,
		signupLimiter: signupLimiter,
		loginLimiter:  loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.withSession(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// chats (guests allowed except where noted)
	s.mux.HandleFunc("/api/chats", s.handleChats)
	s.mux.HandleFunc("/api/chats/", s.handleChatByID)

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/api/admin/chats", s.adminOnly(s.handleAdminChats))
	s.mux.Handle("/api/admin/documents", s.adminOnly(s.handleAdminDocuments))
	s.mux.Handle("/api/admin/documents/", s.adminOnly(s.handleAdminDocumentByID))

	// billing
	s.mux.HandleFunc("/api/billing/config", s.handleBillingConfig)
	s.mux.Handle("/api/get-or-create-subscription", s.authenticated(s.handleSubscription))
	s.mux.HandleFunc("/api/webhook", s.handleWebhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "dependency", "database", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "dependency", "redis", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session context
type userContextKey struct{}

// withSession resolves the session cookie, when present, into the request
// context. Requests without a valid session continue as guests. When the
// session cannot be checked the request fails instead.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err == nil && cookie.Value != "" {
			user, ok, err := s.app.UserFromToken(cookie.Value)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			if ok {
				ctx := context.WithValue(r.Context(), userContextKey{}, user)
				ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", user.ID))
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the session user or nil for guests.
func currentUser(r *http.Request) *domain.User {
	user, ok := r.Context().Value(userContextKey{}).(domain.User)
	if !ok {
		return nil
	}
	return &user
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			s.audit(r, "api.authorize", "fail", "reason", "no_session")
			writeError(w, http.StatusUnauthorized, app.ErrUnauthenticated.Error())
			return
		}
		next(w, r, *user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			s.audit(r, "api.admin.authorize", "fail", "reason", "no_session")
			writeError(w, http.StatusUnauthorized, app.ErrUnauthenticated.Error())
			return
		}
		if !user.IsAdmin() {
			s.audit(r, "api.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, app.ErrForbidden.Error())
			return
		}
		s.audit(r, "api.admin.authorize", "success", "user_id", user.ID)
		next(w, r, *user)
	})
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.audit(r, "api.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := s.app.Register(req.Email, req.Password, req.Username)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.audit(r, "api.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := s.app.Logout(cookie.Value); err != nil {
			s.audit(r, "api.logout", "fail", "reason", err.Error())
			s.writeAppError(w, r, err)
			return
		}
	}
	s.clearSessionCookie(w)
	s.audit(r, "api.logout", "success")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// /api/chats
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		if user == nil {
			writeError(w, http.StatusUnauthorized, app.ErrUnauthenticated.Error())
			return
		}
		chats, err := s.app.ListChats(*user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chats)
	case http.MethodPost:
		var req createChatRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		chat, err := s.app.CreateChat(user, req.Category)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	default:
		methodNotAllowed(w)
	}
}

// /api/chats/{id} or /api/chats/{id}/messages
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "messages" {
		s.handleChatMessages(w, r, id)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}

	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		chat, err := s.app.GetChat(id, user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case http.MethodPatch:
		var req updateChatRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		chat, err := s.app.UpdateChat(id, user, req.Title, req.Category)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case http.MethodDelete:
		if user == nil {
			writeError(w, http.StatusUnauthorized, app.ErrUnauthenticated.Error())
			return
		}
		if err := s.app.DeleteChat(id, *user); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "Chat deleted successfully"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.ListMessages(chatID, user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var req sendMessageRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, "Message content is required")
			return
		}
		reply, err := s.app.SendMessage(r.Context(), chatID, user, req.Content, req.Category)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	default:
		methodNotAllowed(w)
	}
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req adminUserUpdateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.app.AdminUpdateUser(admin, id, req.Role, req.SubscriptionTier)
	if err != nil {
		s.audit(r, "api.admin.user.update", "fail", "user_id", admin.ID, "target_id", id, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.user.update", "success", "user_id", admin.ID, "target_id", id,
		"role", updated.Role, "tier", updated.SubscriptionTier)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdminChats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	chats, err := s.app.ListAllChats(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleAdminDocuments(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	case http.MethodPost:
		s.handleUploadDocument(w, r, admin)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, admin domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, docinspect.MaxUploadBytes+uploadOverheadBytes)
	if err := r.ParseMultipartForm(uploadMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, docinspect.ErrTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	doc, err := s.app.UploadDocument(r.Context(), admin, app.DocumentUpload{
		Title:       r.FormValue("title"),
		Author:      r.FormValue("author"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		File:        file,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.document.upload", "success", "user_id", admin.ID, "document_id", doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

// /api/admin/documents/{id} or /api/admin/documents/{id}/file
func (s *Server) handleAdminDocumentByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "file" {
		s.handleDocumentFile(w, r, id)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteDocument(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.document.delete", "success", "user_id", admin.ID, "document_id", id)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Document deleted successfully"})
}

func (s *Server) handleDocumentFile(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, body, err := s.app.OpenDocument(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", doc.FileType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	if doc.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("stream document failed", "document_id", id, "err", err)
	}
}

// billing handlers
func (s *Server) handleBillingConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.BillingConfig())
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req subscriptionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, app.ErrInvalidPlan.Error())
		return
	}
	res, err := s.app.GetOrCreateSubscription(r.Context(), user, req.Plan)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(payload) > maxWebhookBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if err := s.app.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, app.ErrInvalidSignature) {
			s.audit(r, "api.webhook", "fail", "reason", err.Error())
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{app.ErrUnauthenticated, http.StatusUnauthorized},
	{app.ErrInvalidCredentials, http.StatusUnauthorized},
	{app.ErrChatForbidden, http.StatusForbidden},
	{app.ErrTierInsufficient, http.StatusForbidden},
	{app.ErrQuotaExceeded, http.StatusForbidden},
	{app.ErrGuestLimitReached, http.StatusForbidden},
	{app.ErrForbidden, http.StatusForbidden},
	{app.ErrOwnRole, http.StatusForbidden},
	{app.ErrUserNotFound, http.StatusNotFound},
	{app.ErrChatNotFound, http.StatusNotFound},
	{app.ErrDocumentNotFound, http.StatusNotFound},
	{app.ErrDuplicateEmail, http.StatusBadRequest},
	{app.ErrDuplicateUsername, http.StatusBadRequest},
	{app.ErrInvalidPlan, http.StatusBadRequest},
	{app.ErrInvalidSignature, http.StatusBadRequest},
	{app.ErrGenerationFailed, http.StatusBadGateway},
	{app.ErrBillingUnavailable, http.StatusServiceUnavailable},
	{app.ErrSessionUnavailable, http.StatusServiceUnavailable},
}

// writeAppError maps application errors to statuses. Known errors are sent
// with their sentinel message only; anything else is logged and hidden.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Message)
		return
	}
	log := util.LoggerFromContext(r.Context())
	for _, known := range errorStatuses {
		if errors.Is(err, known.err) {
			if known.status >= http.StatusInternalServerError {
				log.Error("request failed", "path", r.URL.Path, "err", err)
			}
			writeError(w, known.status, known.err.Error())
			return
		}
	}
	log.Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.proxies.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	log := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		log.Info("security_event", logAttrs...)
		return
	}
	log.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.proxies.ClientIP(r)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
