package explain

import (
	"context"
	"log"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	sensors "greenthread/internal/sensors/domain"
)

const (
	averageWindow = 7 * 24 * time.Hour

	// DefaultRatePerMinute is the local request budget.
	DefaultRatePerMinute = 15
)

// LatestReader returns the newest reading per configured sensor, aligned with
// the registry order.
type LatestReader interface {
	Latest(ctx context.Context) ([]*sensors.Reading, error)
}

// AverageReader returns per-type averages since a point in time.
type AverageReader interface {
	AveragesSince(ctx context.Context, since time.Time) (map[sensors.SensorType]sensors.Average, error)
}

// Service assembles sensor context and forwards a transcript to the backend.
type Service struct {
	registry *sensors.Registry
	latest   LatestReader
	averages AverageReader
	backend  Backend
	limiter  *rate.Limiter
	logger   *log.Logger
	now      func() time.Time
	system   string
}

// Option configures a Service.
type Option func(*Service)

// WithRatePerMinute caps backend calls with a token bucket. Zero disables it.
func WithRatePerMinute(n int) Option {
	return func(s *Service) {
		if n <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

// WithClock overrides the context timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(registry *sensors.Registry, latest LatestReader, averages AverageReader, backend Backend, logger *log.Logger, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("explain: nil registry")
	}
	if latest == nil || averages == nil {
		return nil, errors.New("explain: nil sensor reader")
	}
	if backend == nil {
		return nil, errors.New("explain: nil backend")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		registry: registry,
		latest:   latest,
		averages: averages,
		backend:  backend,
		logger:   logger,
		now:      time.Now,
		system:   SystemPrompt(registry),
	}
	WithRatePerMinute(DefaultRatePerMinute)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Explain starts a streamed explanation. The caller owns Result.Stream and
// must close it.
func (s *Service) Explain(ctx context.Context, transcript []ChatMessage) Result {
	if s.limiter != nil && !s.limiter.Allow() {
		return Result{Kind: ResultQuotaExceeded, Err: errors.Wrap(ErrQuotaExceeded, "local request limit reached")}
	}

	req, err := s.BuildRequest(ctx, transcript)
	if err != nil {
		return Result{Kind: ResultError, Err: err}
	}

	stream, err := s.backend.StreamText(ctx, req)
	if err != nil {
		if IsQuota(err) {
			return Result{Kind: ResultQuotaExceeded, Err: err}
		}
		return Result{Kind: ResultError, Err: err}
	}
	return Result{Kind: ResultStream, Stream: stream}
}

// BuildRequest prepends the system prompt and the live sensor context to the
// transcript. A failed averages lookup only drops the averages.
func (s *Service) BuildRequest(ctx context.Context, transcript []ChatMessage) (Request, error) {
	latest, err := s.latest.Latest(ctx)
	if err != nil {
		return Request{}, errors.Wrap(err, "explain: load latest readings")
	}
	averages, err := s.averages.AveragesSince(ctx, s.now().Add(-averageWindow))
	if err != nil {
		s.logger.Printf("explain: load averages: %v", err)
		averages = nil
	}

	messages := make([]Message, 0, len(transcript)+1)
	messages = append(messages, Message{
		Role: RoleSystem,
		Text: BuildContext(s.registry, latest, averages, s.now()),
	})
	for _, msg := range transcript {
		role := msg.Role
		if role != RoleAssistant && role != RoleSystem {
			role = RoleUser
		}
		messages = append(messages, Message{Role: role, Text: msg.Text()})
	}
	return Request{System: s.system, Messages: messages}, nil
}
