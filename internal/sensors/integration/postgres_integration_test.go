package integration_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	sensors "greenthread/internal/sensors/domain"
	sensorpg "greenthread/internal/sensors/infrastructure/postgres"
)

func TestReadingQuery_Postgres(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	require.NoError(t, applyMigrations(db))

	ctx := context.Background()
	_, err := db.ExecContext(ctx, "DELETE FROM sensor_data WHERE id LIKE 'it-%'")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := sensorpg.NewReadingRepository(db)
	require.NoError(t, repo.InsertReadings(ctx, []sensors.Reading{
		{ID: "it-1", Type: sensors.SensorPH, Value: 7.1, RecordedAt: base},
		{ID: "it-2", Type: sensors.SensorPH, Value: 8.9, RecordedAt: base.Add(time.Minute)},
		{ID: "it-3", Type: sensors.SensorTurbidity, Value: 12, Unit: "NTU", RecordedAt: base},
	}))

	query := sensorpg.NewReadingQuery(db)
	latest, err := query.LatestByType(ctx, sensors.SensorPH)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "it-2", latest.ID)

	page, total, err := query.ListPage(ctx, sensors.HistoryFilter{
		SensorType: sensors.SensorPH,
		Start:      &base,
		SortBy:     sensors.SortValue,
		Ascending:  true,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "it-1", page[0].ID)

	avgs, err := query.AveragesSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 8.0, avgs[sensors.SensorPH].Average)
}

func TestReadingRepository_BatchIsAtomic(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	require.NoError(t, applyMigrations(db))

	ctx := context.Background()
	_, err := db.ExecContext(ctx, "DELETE FROM sensor_data WHERE id LIKE 'it-atomic-%'")
	require.NoError(t, err)

	repo := sensorpg.NewReadingRepository(db)
	now := time.Now().UTC()
	err = repo.InsertReadings(ctx, []sensors.Reading{
		{ID: "it-atomic-1", Type: sensors.SensorPH, Value: 7, RecordedAt: now},
		{ID: "it-atomic-1", Type: sensors.SensorPH, Value: 7, RecordedAt: now},
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensor_data WHERE id LIKE 'it-atomic-%'").Scan(&count))
	require.Zero(t, count)
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	return db
}

func applyMigrations(db *sql.DB) error {
	content, err := os.ReadFile(filepath.Join(projectRoot(), "migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}
