package identity

import (
	"context"
	"time"
)

// Profile is the application-side user record.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileRepository persists profiles.
type ProfileRepository interface {
	// Get returns nil without error when the profile does not exist.
	Get(ctx context.Context, id string) (*Profile, error)
	// Ensure creates the profile if missing and returns the stored row.
	Ensure(ctx context.Context, id, email string) (*Profile, error)
	// UpdateFullName returns nil without error when the profile does not exist.
	UpdateFullName(ctx context.Context, id, fullName string) (*Profile, error)
}
