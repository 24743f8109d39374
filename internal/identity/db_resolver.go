package identity

import (
	"context"
	"database/sql"
	"errors"
)

// DBResolver resolves profiles from the CMS user table.
type DBResolver struct {
	db *sql.DB
}

func NewDBResolver(db *sql.DB) *DBResolver {
	return &DBResolver{db: db}
}

func (r *DBResolver) Profile(
	ctx context.Context,
	userID string,
) (*Profile, error) {

	if userID == "" {
		return nil, errors.New("identity: empty user id")
	}

	var (
		p     Profile
		image sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, image
		FROM public.users
		WHERE id = $1
	`,
		userID,
	).Scan(&p.ID, &p.Name, &p.Email, &image)

	if err == sql.ErrNoRows {
		return nil, nil // unknown user, caller decides
	}
	if err != nil {
		return nil, err
	}

	if image.Valid {
		p.Image = &image.String
	}

	return &p, nil
}
