package session

import (
	"context"
	"net/http"
)

type contextKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}

// FromRequest returns the session LoadSession attached, or nil.
func FromRequest(r *http.Request) *Session {
	s, _ := FromContext(r.Context())
	return s
}
