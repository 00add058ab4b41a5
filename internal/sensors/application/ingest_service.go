package application

import (
	"context"
	"log"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"greenthread/internal/observability/metrics"
	sensors "greenthread/internal/sensors/domain"
)

// IngestAuditor records committed batches in the audit trail.
type IngestAuditor interface {
	RecordIngest(ctx context.Context, readings []sensors.Reading, violations []sensors.Reading) error
}

// ViolationNotifier is told about committed readings outside their threshold.
type ViolationNotifier interface {
	NotifyViolations(ctx context.Context, violations []sensors.Reading)
}

// IngestService persists validated webhook batches.
type IngestService struct {
	registry *sensors.Registry
	repo     sensors.ReadingRepository
	auditor  IngestAuditor
	notifier ViolationNotifier
	logger   *log.Logger
	newID    func() string
}

// IngestOption configures the ingest service.
type IngestOption func(*IngestService)

// WithAuditor records committed batches through auditor.
func WithAuditor(auditor IngestAuditor) IngestOption {
	return func(s *IngestService) {
		s.auditor = auditor
	}
}

// WithNotifier forwards violations to notifier after each committed batch.
func WithNotifier(notifier ViolationNotifier) IngestOption {
	return func(s *IngestService) {
		s.notifier = notifier
	}
}

// WithIDGenerator overrides reading id generation.
func WithIDGenerator(fn func() string) IngestOption {
	return func(s *IngestService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewIngestService constructs the service.
func NewIngestService(registry *sensors.Registry, repo sensors.ReadingRepository, logger *log.Logger, opts ...IngestOption) (*IngestService, error) {
	if registry == nil {
		return nil, errors.New("ingest: nil registry")
	}
	if repo == nil {
		return nil, errors.New("ingest: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &IngestService{
		registry: registry,
		repo:     repo,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest stores the batch atomically and returns the number of rows written.
// Replayed batches are stored again; there is no dedup key.
func (s *IngestService) Ingest(ctx context.Context, readings []sensors.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, sensors.NewValidationError("body", "At least one sensor reading is required")
	}
	batch := make([]sensors.Reading, len(readings))
	copy(batch, readings)
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = s.newID()
		}
		batch[i].RecordedAt = batch[i].RecordedAt.UTC()
	}

	if err := s.repo.InsertReadings(ctx, batch); err != nil {
		return 0, errors.Wrap(err, "ingest: insert readings")
	}

	var violations []sensors.Reading
	for _, reading := range batch {
		if status, ok := s.registry.StatusFor(reading.Type, reading.Value); ok && status == sensors.StatusViolation {
			violations = append(violations, reading)
			metrics.IncSensorViolation(string(reading.Type))
		}
	}

	if s.auditor != nil {
		if err := s.auditor.RecordIngest(ctx, batch, violations); err != nil {
			s.logger.Printf("ingest: audit record error: %v", err)
		}
	}
	if s.notifier != nil && len(violations) > 0 {
		s.notifier.NotifyViolations(ctx, violations)
	}
	return len(batch), nil
}
