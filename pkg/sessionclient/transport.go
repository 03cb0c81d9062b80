package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	csrfHeaderName = "X-CSRF-Token"
	csrfCookieName = "csrf_token"
)

var ErrSessionExpired = errors.New("sessionclient: session expired")

// HTTPTransport talks to the portal API with the browser's cookies and
// echoes the readable CSRF cookie back in the request header.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPTransport uses client as given, or a fresh client with a cookie jar.
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	}
	return &HTTPTransport{base: base, client: client}, nil
}

func (t *HTTPTransport) Client() *http.Client { return t.client }

// Config fetches the idle and warning windows the server enforces.
func (t *HTTPTransport) Config(ctx context.Context) (Config, error) {
	resp, err := t.do(ctx, http.MethodGet, "/session/config")
	if err != nil {
		return Config{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Config{}, fmt.Errorf("session config: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		IdleTimeoutSeconds   int `json:"idle_timeout_seconds"`
		WarningWindowSeconds int `json:"warning_window_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Config{}, fmt.Errorf("decode session config: %w", err)
	}
	return Config{
		IdleTimeout:   time.Duration(body.IdleTimeoutSeconds) * time.Second,
		WarningWindow: time.Duration(body.WarningWindowSeconds) * time.Second,
	}, nil
}

func (t *HTTPTransport) Extend(ctx context.Context) error {
	resp, err := t.do(ctx, http.MethodPost, "/session/extend")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return ErrSessionExpired
	default:
		return fmt.Errorf("extend session: unexpected status %d", resp.StatusCode)
	}
}

// Logout treats an already-dead session as success.
func (t *HTTPTransport) Logout(ctx context.Context) error {
	resp, err := t.do(ctx, http.MethodPost, "/auth/logout")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string) (*http.Response, error) {
	target := t.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if token := t.csrfToken(); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
	return t.client.Do(req)
}

func (t *HTTPTransport) csrfToken() string {
	if t.client.Jar == nil {
		return ""
	}
	for _, c := range t.client.Jar.Cookies(t.base) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	return ""
}
