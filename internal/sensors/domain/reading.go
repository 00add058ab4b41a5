package sensors

import (
	"context"
	"time"
)

// Reading is one stored sensor value. Status is never stored with it.
type Reading struct {
	ID         string
	Type       SensorType
	Value      float64
	Unit       string
	RecordedAt time.Time
}

// Average is an aggregate of readings for one sensor type.
type Average struct {
	Average float64
	Count   int
}

// SortColumn is a whitelisted ordering column for history pages.
type SortColumn string

const (
	SortRecordedAt SortColumn = "recorded_at"
	SortType       SortColumn = "type"
	SortValue      SortColumn = "value"
)

// HistoryFilter is a storage-level page request. Offset and Limit are already resolved.
type HistoryFilter struct {
	SensorType SensorType
	Start      *time.Time
	End        *time.Time
	SortBy     SortColumn
	Ascending  bool
	Offset     int
	Limit      int
}

// ReadingRepository persists readings.
type ReadingRepository interface {
	// InsertReadings stores the whole batch or nothing.
	InsertReadings(ctx context.Context, readings []Reading) error
}

// ReadingQuery loads readings for dashboards.
type ReadingQuery interface {
	// LatestByType returns nil without error when no reading exists.
	LatestByType(ctx context.Context, sensorType SensorType) (*Reading, error)
	// ListSince returns readings with recorded_at >= since, ascending.
	ListSince(ctx context.Context, since time.Time) ([]Reading, error)
	// ListPage returns one page plus the total count under the same filters.
	ListPage(ctx context.Context, filter HistoryFilter) ([]Reading, int, error)
	// AveragesSince groups readings with recorded_at >= since by type.
	AveragesSince(ctx context.Context, since time.Time) (map[SensorType]Average, error)
}
