package identity

import "context"

// Profile is the CMS-owned display identity for a user. The presence
// service reads it to fill upgrade parameters the client left out; it
// never writes profiles.
type Profile struct {
	ID    string
	Name  string
	Email string
	Image *string
}

// Resolver looks up the profile behind an authenticated user id.
// It is the ONLY place where user-id-to-profile mapping logic lives.
type Resolver interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}
