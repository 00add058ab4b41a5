package application

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// HistoryService serves the trend chart.
type HistoryService struct {
	registry *sensors.Registry
	query    sensors.ReadingQuery
	clock    Clock
}

// NewHistoryService constructs the service.
func NewHistoryService(registry *sensors.Registry, query sensors.ReadingQuery, clock Clock) (*HistoryService, error) {
	if registry == nil {
		return nil, errors.New("history: nil registry")
	}
	if query == nil {
		return nil, errors.New("history: nil query")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &HistoryService{registry: registry, query: query, clock: clock}, nil
}

// History returns one bucket per distinct timestamp in the last days.
func (s *HistoryService) History(ctx context.Context, days int) ([]sensors.HistoricalDataPoint, error) {
	if days <= 0 {
		return nil, sensors.NewValidationError("num_days", "Invalid num_days parameter. Must be a positive integer.")
	}
	since := s.clock.Now().AddDate(0, 0, -days)
	readings, err := s.query.ListSince(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "history: list readings")
	}
	return sensors.BuildHistory(s.registry.Types(), readings), nil
}
