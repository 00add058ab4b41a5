package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sensors "greenthread/internal/sensors/domain"
	"greenthread/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestStore_LatestAndPage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	var batch []sensors.Reading
	for i := 0; i < 12; i++ {
		batch = append(batch, sensors.Reading{
			ID:         fmt.Sprintf("t-%02d", i),
			Type:       sensors.SensorTurbidity,
			Value:      float64(i),
			Unit:       "NTU",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	batch = append(batch, sensors.Reading{ID: "p-1", Type: sensors.SensorPH, Value: 7.4, RecordedAt: base})
	require.NoError(t, store.InsertReadings(ctx, batch))

	latest, err := store.LatestByType(ctx, sensors.SensorTurbidity)
	require.NoError(t, err)
	require.Equal(t, "t-11", latest.ID)
	require.Equal(t, "NTU", latest.Unit)

	none, err := store.LatestByType(ctx, sensors.SensorTDS)
	require.NoError(t, err)
	require.Nil(t, none)

	page, total, err := store.ListPage(ctx, sensors.HistoryFilter{
		SensorType: sensors.SensorTurbidity,
		SortBy:     sensors.SortRecordedAt,
		Ascending:  true,
		Offset:     5,
		Limit:      5,
	})
	require.NoError(t, err)
	require.Equal(t, 12, total)
	require.Len(t, page, 5)
	require.Equal(t, "t-05", page[0].ID)

	end := base.Add(2 * time.Minute)
	ranged, total, err := store.ListPage(ctx, sensors.HistoryFilter{End: &end, Limit: 50})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, ranged, 4)
}

func TestStore_DuplicateIDRollsBackBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.InsertReadings(ctx, []sensors.Reading{
		{ID: "dup", Type: sensors.SensorPH, Value: 7, RecordedAt: now},
		{ID: "dup", Type: sensors.SensorPH, Value: 7.1, RecordedAt: now},
	})
	require.Error(t, err)

	rows, err := store.ListSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStore_AveragesSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertReadings(ctx, []sensors.Reading{
		{ID: "a", Type: sensors.SensorPH, Value: 7, RecordedAt: now.AddDate(0, 0, -1)},
		{ID: "b", Type: sensors.SensorPH, Value: 7.5, RecordedAt: now.AddDate(0, 0, -2)},
		{ID: "c", Type: sensors.SensorPH, Value: 1, RecordedAt: now.AddDate(0, 0, -30)},
	}))

	avgs, err := store.AveragesSince(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Equal(t, 2, avgs[sensors.SensorPH].Count)
	require.Equal(t, 7.25, avgs[sensors.SensorPH].Average)
}
