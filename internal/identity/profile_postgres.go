package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// PostgresProfiles stores profiles in the users table.
type PostgresProfiles struct {
	db *sql.DB
}

// NewPostgresProfiles constructs a repository.
func NewPostgresProfiles(db *sql.DB) *PostgresProfiles {
	return &PostgresProfiles{db: db}
}

const selectProfile = `SELECT id, email, full_name, created_at, updated_at FROM users WHERE id = $1`

// Get loads a profile by id.
func (r *PostgresProfiles) Get(ctx context.Context, id string) (*Profile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("profile repo: nil db")
	}
	return r.scan(r.db.QueryRowContext(ctx, selectProfile, id))
}

// Ensure inserts the profile when missing.
func (r *PostgresProfiles) Ensure(ctx context.Context, id, email string) (*Profile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("profile repo: nil db")
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, email, full_name, created_at, updated_at)
VALUES ($1, $2, '', $3, $3)
ON CONFLICT (id) DO NOTHING`, id, email, now)
	if err != nil {
		return nil, errors.Wrap(err, "profile repo: ensure")
	}
	return r.Get(ctx, id)
}

// UpdateFullName sets full_name.
func (r *PostgresProfiles) UpdateFullName(ctx context.Context, id, fullName string) (*Profile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("profile repo: nil db")
	}
	return r.scan(r.db.QueryRowContext(ctx, `
UPDATE users SET full_name = $2, updated_at = $3
WHERE id = $1
RETURNING id, email, full_name, created_at, updated_at`, id, fullName, time.Now().UTC()))
}

func (r *PostgresProfiles) scan(row *sql.Row) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "profile repo: scan")
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
