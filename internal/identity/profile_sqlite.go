package identity

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type profileRow struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"not null"`
	FullName  string `gorm:"not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (profileRow) TableName() string { return "users" }

func (r profileRow) toProfile() *Profile {
	return &Profile{
		ID:        r.ID,
		Email:     r.Email,
		FullName:  r.FullName,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// SQLiteProfiles stores profiles in the embedded database.
type SQLiteProfiles struct {
	db *gorm.DB
}

// NewSQLiteProfiles migrates the users table and returns a repository.
func NewSQLiteProfiles(db *gorm.DB) (*SQLiteProfiles, error) {
	if db == nil {
		return nil, errors.New("profile sqlite: nil db")
	}
	if err := db.AutoMigrate(&profileRow{}); err != nil {
		return nil, errors.Wrap(err, "profile sqlite: migrate")
	}
	return &SQLiteProfiles{db: db}, nil
}

// Get loads a profile by id.
func (r *SQLiteProfiles) Get(ctx context.Context, id string) (*Profile, error) {
	var rows []profileRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "profile sqlite: get")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toProfile(), nil
}

// Ensure inserts the profile when missing.
func (r *SQLiteProfiles) Ensure(ctx context.Context, id, email string) (*Profile, error) {
	row := profileRow{ID: id, Email: email}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "profile sqlite: ensure")
	}
	return r.Get(ctx, id)
}

// UpdateFullName sets full_name.
func (r *SQLiteProfiles) UpdateFullName(ctx context.Context, id, fullName string) (*Profile, error) {
	result := r.db.WithContext(ctx).Model(&profileRow{}).Where("id = ?", id).
		Updates(map[string]any{"full_name": fullName, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "profile sqlite: update")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.Get(ctx, id)
}
