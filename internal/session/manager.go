package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bantay/internal/auth"
	"github.com/BradenHooton/bantay/internal/models"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	sessionIDKey = "sid"

	ReasonSessionExpired = "session_expired"
	ReasonLoggedOut      = "logged_out"

	LoginPath = "/login"
)

type Config struct {
	CookieName    string
	IdleTimeout   time.Duration
	WarningWindow time.Duration
	Lifetime      time.Duration
	Cookie        auth.CookieConfig
}

func (c Config) noticeCookieName() string {
	return c.CookieName + "_notice"
}

// Identity is what a successful login hands to Start.
type Identity struct {
	AccountID string
	Email     string
	Name      string
	Role      string
	DeviceID  string
}

// Notice is the one-shot message shown on the login page.
type Notice struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Manager binds redis session records to a signed cookie and enforces the
// idle timeout on every authenticated request.
type Manager struct {
	store       Store
	cookies     sessions.Store
	config      Config
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewCookieStore signs (and, with a block key, encrypts) the session cookie.
func NewCookieStore(hashKey, blockKey string, cfg Config) *sessions.CookieStore {
	keys := [][]byte{[]byte(hashKey)}
	if blockKey != "" {
		keys = append(keys, []byte(blockKey))
	}

	store := sessions.NewCookieStore(keys...)
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   cfg.Cookie.Domain,
		MaxAge:   int(cfg.Lifetime.Seconds()),
		Secure:   cfg.Cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func NewManager(store Store, cookies sessions.Store, config Config, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *Manager {
	if config.CookieName == "" {
		config.CookieName = "bantay_session"
	}
	return &Manager{
		store:       store,
		cookies:     cookies,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

func (m *Manager) IdleTimeout() time.Duration   { return m.config.IdleTimeout }
func (m *Manager) WarningWindow() time.Duration { return m.config.WarningWindow }

// Start opens a fresh session for id. Whatever session the browser carried
// before is destroyed so an attacker-planted id never becomes authenticated.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request, id Identity) (*Session, error) {
	cookie, _ := m.cookies.Get(r, m.config.CookieName)
	if cookie == nil {
		cookie, _ = m.cookies.New(r, m.config.CookieName)
	}
	if oldID, ok := cookie.Values[sessionIDKey].(string); ok && oldID != "" {
		if err := m.store.Delete(r.Context(), oldID); err != nil {
			m.logger.Warn("failed to drop previous session", slog.Any("error", err))
		}
	}

	csrfToken, err := auth.GenerateCSRFToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		AccountID:    id.AccountID,
		Email:        id.Email,
		Name:         id.Name,
		Role:         id.Role,
		DeviceID:     id.DeviceID,
		CSRFToken:    csrfToken,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := m.store.Create(r.Context(), s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	cookie.Values = map[interface{}]interface{}{sessionIDKey: s.ID}
	cookie.Options.MaxAge = int(m.config.Lifetime.Seconds())
	if err := cookie.Save(r, w); err != nil {
		_ = m.store.Delete(r.Context(), s.ID)
		return nil, fmt.Errorf("save session cookie: %w", err)
	}

	// the readable CSRF cookie now carries the session-bound token
	auth.SetCSRFTokenCookie(w, csrfToken, int(m.config.Lifetime.Seconds()), m.config.Cookie)
	return s, nil
}

// Current resolves the session behind the request cookie without checking
// idleness.
func (m *Manager) Current(r *http.Request) (*Session, error) {
	cookie, err := m.cookies.Get(r, m.config.CookieName)
	if err != nil || cookie == nil {
		return nil, models.ErrNoSession
	}
	id, ok := cookie.Values[sessionIDKey].(string)
	if !ok || id == "" {
		return nil, models.ErrNoSession
	}
	return m.store.Get(r.Context(), id)
}

// Expired reports whether s has been idle longer than the timeout. Exactly
// IdleTimeout of silence is still allowed.
func (m *Manager) Expired(s *Session) bool {
	return m.now().Sub(s.LastActivity) > m.config.IdleTimeout
}

// Remaining is the idle budget left for s, never negative.
func (m *Manager) Remaining(s *Session) time.Duration {
	left := m.config.IdleTimeout - m.now().Sub(s.LastActivity)
	if left < 0 {
		return 0
	}
	return left
}

// LoadSession rejects unauthenticated and idle-expired requests and puts the
// session in the request context.
func (m *Manager) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Current(r)
		if err != nil {
			if !errors.Is(err, models.ErrNoSession) {
				m.logger.Error("failed to load session", slog.Any("error", err))
				pkghttp.WriteInternalError(w, "An unexpected error occurred")
				return
			}
			m.clearSessionCookie(w, r)
			pkghttp.WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
			return
		}

		if s.LastActivity.IsZero() {
			s.LastActivity = m.now()
			if err := m.store.Update(r.Context(), s); err != nil {
				m.logger.Warn("failed to initialise session activity", slog.String("account_id", s.AccountID), slog.Any("error", err))
			}
		}

		if m.Expired(s) {
			m.expire(w, r, s)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// TrackActivity refreshes last_activity for mutating or script-initiated
// requests. Plain page reads do not keep a session alive.
func (m *Manager) TrackActivity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := FromContext(r.Context()); ok && refreshesActivity(r) {
			if err := m.Touch(r.Context(), s); err != nil {
				m.logger.Warn("failed to refresh session activity",
					slog.String("account_id", s.AccountID),
					slog.Any("error", err))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func refreshesActivity(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return pkghttp.IsXHR(r)
}

func (m *Manager) Touch(ctx context.Context, s *Session) error {
	s.LastActivity = m.now()
	return m.store.Update(ctx, s)
}

func (m *Manager) expire(w http.ResponseWriter, r *http.Request, s *Session) {
	idle := m.now().Sub(s.LastActivity)
	if err := m.store.Delete(r.Context(), s.ID); err != nil {
		m.logger.Error("failed to delete expired session", slog.Any("error", err))
	}

	m.logger.Info("session expired",
		slog.String("account_id", s.AccountID),
		slog.Duration("idle", idle))
	m.auditLogger.LogSessionEvent(r.Context(), pkglogger.AuditEvent{
		EventType: pkglogger.EventSessionExpired,
		AccountID: s.AccountID,
		DeviceID:  s.DeviceID,
		Success:   true,
	})

	m.clearSessionCookie(w, r)
	m.addNotice(w, r, ReasonSessionExpired)
	m.rotateCSRF(w)

	if pkghttp.WantsHTML(r) {
		http.Redirect(w, r, LoginPath+"?reason="+ReasonSessionExpired, http.StatusSeeOther)
		return
	}
	pkghttp.WriteError(w, http.StatusUnauthorized, ReasonSessionExpired, m.noticeMessage(ReasonSessionExpired))
}

// Destroy ends the current session. A request without a session still gets
// the cookies cleared.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request, reason string) error {
	s, err := m.Current(r)
	if err != nil && !errors.Is(err, models.ErrNoSession) {
		return err
	}

	if s != nil {
		if err := m.store.Delete(r.Context(), s.ID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		m.auditLogger.LogSessionEvent(r.Context(), pkglogger.AuditEvent{
			EventType: pkglogger.EventLogout,
			AccountID: s.AccountID,
			DeviceID:  s.DeviceID,
			Success:   true,
			Metadata:  map[string]string{"reason": reason},
		})
	}

	m.clearSessionCookie(w, r)
	m.addNotice(w, r, reason)
	m.rotateCSRF(w)
	return nil
}

// PopNotice returns and clears the pending login-page notice.
func (m *Manager) PopNotice(w http.ResponseWriter, r *http.Request) (*Notice, bool) {
	sess, err := m.cookies.Get(r, m.config.noticeCookieName())
	if err != nil || sess == nil {
		return nil, false
	}

	flashes := sess.Flashes()
	if len(flashes) == 0 {
		return nil, false
	}
	if err := sess.Save(r, w); err != nil {
		m.logger.Warn("failed to clear notice", slog.Any("error", err))
	}

	reason, _ := flashes[len(flashes)-1].(string)
	if reason == "" {
		return nil, false
	}
	return &Notice{Reason: reason, Message: m.noticeMessage(reason)}, true
}

func (m *Manager) noticeMessage(reason string) string {
	switch reason {
	case ReasonSessionExpired:
		return fmt.Sprintf("Your session expired after %d minutes of inactivity. Please log in again.",
			int(m.config.IdleTimeout.Minutes()))
	case ReasonLoggedOut:
		return "You have been logged out."
	default:
		return "Please log in."
	}
}

func (m *Manager) addNotice(w http.ResponseWriter, r *http.Request, reason string) {
	sess, _ := m.cookies.Get(r, m.config.noticeCookieName())
	if sess == nil {
		var err error
		if sess, err = m.cookies.New(r, m.config.noticeCookieName()); sess == nil {
			m.logger.Warn("failed to open notice cookie", slog.Any("error", err))
			return
		}
	}
	sess.Options.MaxAge = 300
	sess.AddFlash(reason)
	if err := sess.Save(r, w); err != nil {
		m.logger.Warn("failed to save notice", slog.Any("error", err))
	}
}

func (m *Manager) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(m.config.CookieName); err != nil {
		return
	}
	cookie, _ := m.cookies.Get(r, m.config.CookieName)
	if cookie == nil {
		return
	}
	cookie.Values = map[interface{}]interface{}{}
	cookie.Options.MaxAge = -1
	if err := cookie.Save(r, w); err != nil {
		m.logger.Warn("failed to clear session cookie", slog.Any("error", err))
	}
}

func (m *Manager) rotateCSRF(w http.ResponseWriter) {
	if _, err := auth.RotateCSRFCookie(w, int(m.config.Lifetime.Seconds()), m.config.Cookie); err != nil {
		m.logger.Error("failed to rotate csrf token", slog.Any("error", err))
	}
}
