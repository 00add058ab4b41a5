package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

const defaultReadingsTable = "sensor_data"

// ReadingRepository is a Postgres implementation of sensors.ReadingRepository.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db, table: defaultReadingsTable}
}

// InsertReadings stores the batch in one transaction.
func (r *ReadingRepository) InsertReadings(ctx context.Context, readings []sensors.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "reading repo: begin")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO `+r.table+` (id, type, value, unit, recorded_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return errors.Wrap(err, "reading repo: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, reading := range readings {
		if _, err := stmt.ExecContext(ctx,
			reading.ID,
			string(reading.Type),
			reading.Value,
			nullableUnit(reading.Unit),
			reading.RecordedAt.UTC(),
			now,
		); err != nil {
			return errors.Wrapf(err, "reading repo: insert row %d", i)
		}
	}
	return errors.Wrap(tx.Commit(), "reading repo: commit")
}

func nullableUnit(unit string) sql.NullString {
	return sql.NullString{String: unit, Valid: unit != ""}
}
