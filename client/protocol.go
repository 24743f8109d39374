package client

// User mirrors the server's roster entry on the wire.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Image    *string `json:"image"`
	JoinedAt int64   `json:"joinedAt"`
	IsActive bool    `json:"isActive"`
}

type clientFrame struct {
	Type     string `json:"type"`
	IsActive bool   `json:"isActive"`
}

// serverFrame is the union of everything the server sends; Type picks the
// populated fields.
type serverFrame struct {
	Type     string `json:"type"`
	Users    []User `json:"users,omitempty"`
	User     *User  `json:"user,omitempty"`
	UserID   string `json:"userId,omitempty"`
	IsActive bool   `json:"isActive,omitempty"`
}
