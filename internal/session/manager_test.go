package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bantay/internal/auth"
	"github.com/BradenHooton/bantay/internal/models"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	manager *Manager
	mr      *miniredis.Miniredis
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := Config{
		CookieName:    "bantay_session",
		IdleTimeout:   900 * time.Second,
		WarningWindow: 60 * time.Second,
		Lifetime:      8 * time.Hour,
		Cookie:        auth.CookieConfig{SameSite: "lax"},
	}
	cookies := NewCookieStore("0123456789abcdef0123456789abcdef", "", cfg)
	m := NewManager(NewRedisStore(client, cfg.Lifetime), cookies, cfg, slog.Default(), pkglogger.NewAuditLogger(slog.Default()))

	clock := &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	m.now = clock.Now

	return &fixture{manager: m, mr: mr, clock: clock}
}

// jar keeps the live cookies across requests the way a browser would
type jar map[string]*http.Cookie

func (j jar) absorb(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			delete(j, c.Name)
			continue
		}
		j[c.Name] = c
	}
}

func (j jar) request(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range j {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func (f *fixture) login(t *testing.T, j jar) *Session {
	t.Helper()
	rec := httptest.NewRecorder()
	s, err := f.manager.Start(rec, j.request(http.MethodPost, "/auth/login"), Identity{
		AccountID: "acct-1",
		Email:     "a@x.com",
		Role:      models.RoleResident,
		DeviceID:  "dev-1",
	})
	require.NoError(t, err)
	j.absorb(rec.Result())
	return s
}

func (f *fixture) protected() http.Handler {
	return f.manager.LoadSession(f.manager.TrackActivity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromRequest(r)
		if s == nil {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(s.AccountID))
	})))
}

func (f *fixture) serve(j jar, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.protected().ServeHTTP(rec, req)
	j.absorb(rec.Result())
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["error"].(string)
	return code
}

func TestStart_StoresRecordAndCookies(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	s := f.login(t, j)

	assert.True(t, f.mr.Exists(keyPrefix+s.ID))
	assert.Equal(t, 8*time.Hour, f.mr.TTL(keyPrefix+s.ID))
	require.Contains(t, j, "bantay_session")
	require.Contains(t, j, auth.CSRFCookieName)
	assert.Equal(t, s.CSRFToken, j[auth.CSRFCookieName].Value)
	assert.True(t, j["bantay_session"].HttpOnly)

	rec := f.serve(j, j.request(http.MethodGet, "/me"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acct-1", rec.Body.String())
}

func TestStart_ReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	first := f.login(t, j)
	second := f.login(t, j)

	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, f.mr.Exists(keyPrefix+first.ID))
	assert.True(t, f.mr.Exists(keyPrefix+second.ID))
}

func TestLoadSession_Unauthenticated(t *testing.T) {
	f := newFixture(t)

	rec := f.serve(jar{}, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, rec))

	forged := jar{"bantay_session": {Name: "bantay_session", Value: "forged"}}
	rec = f.serve(forged, forged.request(http.MethodGet, "/me"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoadSession_IdleBoundary(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	f.login(t, j)

	f.clock.Advance(900 * time.Second)
	rec := f.serve(j, j.request(http.MethodGet, "/me"))
	assert.Equal(t, http.StatusOK, rec.Code, "exactly the idle timeout is still valid")
}

func TestLoadSession_ExpiresAfterIdleTimeout(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	s := f.login(t, j)
	oldCSRF := j[auth.CSRFCookieName].Value

	f.clock.Advance(901 * time.Second)
	req := j.request(http.MethodGet, "/me")
	req.Header.Set("Accept", "application/json")
	rec := f.serve(j, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonSessionExpired, errorCode(t, rec))
	assert.False(t, f.mr.Exists(keyPrefix+s.ID))
	assert.NotContains(t, j, "bantay_session")
	assert.NotEqual(t, oldCSRF, j[auth.CSRFCookieName].Value)

	// the next request is plainly unauthenticated
	rec = f.serve(j, j.request(http.MethodGet, "/me"))
	assert.Equal(t, "unauthenticated", errorCode(t, rec))

	notice, ok := f.popNotice(j)
	require.True(t, ok)
	assert.Equal(t, ReasonSessionExpired, notice.Reason)
	assert.Contains(t, notice.Message, "15 minutes of inactivity")

	_, ok = f.popNotice(j)
	assert.False(t, ok, "notice is shown once")
}

func TestLoadSession_ExpiredBrowserNavigationRedirects(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	f.login(t, j)

	f.clock.Advance(20 * time.Minute)
	req := j.request(http.MethodGet, "/devices")
	req.Header.Set("Accept", "text/html")
	rec := f.serve(j, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?reason=session_expired", rec.Header().Get("Location"))
}

func TestTrackActivity_OnlyQualifyingRequestsRefresh(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	f.login(t, j)

	f.clock.Advance(600 * time.Second)
	rec := f.serve(j, j.request(http.MethodPost, "/session/extend"))
	require.Equal(t, http.StatusOK, rec.Code)

	// plain reads do not extend the session
	f.clock.Advance(600 * time.Second)
	rec = f.serve(j, j.request(http.MethodGet, "/me"))
	require.Equal(t, http.StatusOK, rec.Code)

	f.clock.Advance(400 * time.Second)
	rec = f.serve(j, j.request(http.MethodGet, "/me"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTrackActivity_XHRRefreshes(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	s := f.login(t, j)

	f.clock.Advance(800 * time.Second)
	req := j.request(http.MethodGet, "/devices")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	require.Equal(t, http.StatusOK, f.serve(j, req).Code)

	stored, err := f.manager.store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastActivity.UTC())
	assert.Greater(t, f.mr.TTL(keyPrefix+s.ID), time.Duration(0), "refresh keeps the lifetime TTL")

	f.clock.Advance(800 * time.Second)
	assert.Equal(t, http.StatusOK, f.serve(j, j.request(http.MethodGet, "/me")).Code)
}

func TestDestroy_LoggedOutNotice(t *testing.T) {
	f := newFixture(t)
	j := jar{}
	s := f.login(t, j)

	rec := httptest.NewRecorder()
	require.NoError(t, f.manager.Destroy(rec, j.request(http.MethodPost, "/auth/logout"), ReasonLoggedOut))
	j.absorb(rec.Result())

	assert.False(t, f.mr.Exists(keyPrefix+s.ID))
	assert.Equal(t, http.StatusUnauthorized, f.serve(j, j.request(http.MethodGet, "/me")).Code)

	notice, ok := f.popNotice(j)
	require.True(t, ok)
	assert.Equal(t, ReasonLoggedOut, notice.Reason)
	assert.Equal(t, "You have been logged out.", notice.Message)
}

func TestDestroy_WithoutSession(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()

	assert.NoError(t, f.manager.Destroy(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil), ReasonLoggedOut))
}

func TestRemaining(t *testing.T) {
	f := newFixture(t)
	s := &Session{LastActivity: f.clock.Now()}

	assert.Equal(t, 900*time.Second, f.manager.Remaining(s))
	f.clock.Advance(850 * time.Second)
	assert.Equal(t, 50*time.Second, f.manager.Remaining(s))
	f.clock.Advance(time.Hour)
	assert.Equal(t, time.Duration(0), f.manager.Remaining(s))
}

func TestRedisStore_UpdateMissingSession(t *testing.T) {
	f := newFixture(t)

	err := f.manager.store.Update(context.Background(), &Session{ID: "gone"})
	assert.ErrorIs(t, err, models.ErrNoSession)
	assert.False(t, f.mr.Exists(keyPrefix+"gone"))
}

func (f *fixture) popNotice(j jar) (*Notice, bool) {
	rec := httptest.NewRecorder()
	n, ok := f.manager.PopNotice(rec, j.request(http.MethodGet, "/auth/notice"))
	j.absorb(rec.Result())
	return n, ok
}
