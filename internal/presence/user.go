package presence

import "presence-service/internal/registry"

// User is the roster entry for one present user. All fields except
// IsActive are fixed at first join.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Image    *string `json:"image"`
	JoinedAt int64   `json:"joinedAt"` // epoch ms
	IsActive bool    `json:"isActive"`
}

// session aggregates one user's presence across all their connections in
// one room. conns holds the connection ids already counted, so a join
// replayed after a rebuild that saw the same connection is a no-op.
type session struct {
	user  User
	conns map[string]struct{}
}

func userFromAttachment(att registry.Attachment) User {
	return User{
		ID:       att.UserID,
		Name:     att.UserName,
		Email:    att.UserEmail,
		Image:    att.UserImage,
		JoinedAt: att.JoinedAt,
		IsActive: att.IsActive,
	}
}
