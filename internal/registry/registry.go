package registry

import (
	"context"
	"time"
)

// Attachment is the durable per-connection record written at upgrade time.
// The identity fields never change for the lifetime of the connection;
// IsActive tracks the client's focus state so a rebuilt roster matches the
// one that existed before the process (or room) went away.
type Attachment struct {
	ConnID    string  `json:"connId"`
	RoomID    string  `json:"roomId"`
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	UserEmail string  `json:"userEmail"`
	UserImage *string `json:"userImage,omitempty"`
	JoinedAt  int64   `json:"joinedAt"` // epoch ms
	IsActive  bool    `json:"isActive"`
}

// Store holds connection attachments keyed by connection id. In-memory
// roster state is only ever a cache over this store plus the set of live
// sockets; rooms re-read it whenever they are (re)built.
type Store interface {
	Put(ctx context.Context, att Attachment) error
	Get(ctx context.Context, connID string) (*Attachment, error)
	SetActive(ctx context.Context, connID string, active bool) error
	Touch(ctx context.Context, connID string) error
	Delete(ctx context.Context, connID string) error
}

// DefaultTTL bounds how long a record can outlive its process; live
// connections refresh it on every heartbeat.
const DefaultTTL = 24 * time.Hour
