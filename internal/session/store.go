package session

import (
	"context"
	"time"
)

// CookieName matches the cookie issued by the surrounding CMS; the
// presence service only ever reads it.
const CookieName = "__Host-session"

// Session is the CMS-issued authenticated session. The presence service
// treats it as read-only proof of identity.
type Session struct {
	SessionID string    // unique session identifier
	UserID    string    // references users.id in the CMS database
	ExpiresAt time.Time // absolute expiry time
}

// Store defines how sessions are looked up. The CMS owns the write side;
// Create exists so tests and tooling can seed sessions.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
