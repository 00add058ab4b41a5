package application

import (
	"context"
	"log"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	sensors "greenthread/internal/sensors/domain"
)

// CurrentReadingsService builds the dashboard snapshot of all configured sensors.
type CurrentReadingsService struct {
	registry *sensors.Registry
	query    sensors.ReadingQuery
	logger   *log.Logger
}

// NewCurrentReadingsService constructs the service.
func NewCurrentReadingsService(registry *sensors.Registry, query sensors.ReadingQuery, logger *log.Logger) (*CurrentReadingsService, error) {
	if registry == nil {
		return nil, errors.New("current readings: nil registry")
	}
	if query == nil {
		return nil, errors.New("current readings: nil query")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CurrentReadingsService{registry: registry, query: query, logger: logger}, nil
}

// Current returns one entry per configured sensor in registry order. A type whose
// lookup fails is logged and reported without a value.
func (s *CurrentReadingsService) Current(ctx context.Context) ([]sensors.DisplaySensor, error) {
	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	configs := s.registry.Configs()
	result := make([]sensors.DisplaySensor, 0, len(configs))
	for i, cfg := range configs {
		result = append(result, sensors.NewDisplaySensor(cfg, latest[i]))
	}
	return result, nil
}

// Latest fetches the newest reading of every configured type concurrently.
// The slice is aligned with Registry.Configs; missing entries are nil.
func (s *CurrentReadingsService) Latest(ctx context.Context) ([]*sensors.Reading, error) {
	configs := s.registry.Configs()
	latest := make([]*sensors.Reading, len(configs))

	var group errgroup.Group
	for i, cfg := range configs {
		group.Go(func() error {
			reading, err := s.query.LatestByType(ctx, cfg.ID)
			if err != nil {
				s.logger.Printf("current readings: fetch %s: %v", cfg.ID, err)
				return nil
			}
			latest[i] = reading
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return latest, nil
}
