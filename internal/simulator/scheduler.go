package simulator

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
)

// BatchSender delivers one batch of readings.
type BatchSender interface {
	Send(ctx context.Context, readings []Reading) (SendResult, error)
}

// Scheduler posts a generated batch on every tick. It owns its State.
type Scheduler struct {
	generator *Generator
	state     *State
	sender    BatchSender
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler constructs a Scheduler with fresh state.
func NewScheduler(generator *Generator, sender BatchSender, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if generator == nil {
		return nil, errors.New("simulator: nil generator")
	}
	if sender == nil {
		return nil, errors.New("simulator: nil sender")
	}
	if interval <= 0 {
		return nil, errors.New("simulator: interval must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		generator: generator,
		state:     NewState(generator.Profiles()),
		sender:    sender,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start sends one batch immediately, then one per interval until ctx ends.
// Failed batches are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.logBatch(s.RunOnce(ctx))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logBatch(s.RunOnce(ctx))
		}
	}
}

// RunOnce generates and sends a single batch.
func (s *Scheduler) RunOnce(ctx context.Context) (SendResult, error) {
	readings := s.generator.Next(s.state, s.now())
	s.logger.Debug("sending batch", "readings", len(readings))
	return s.sender.Send(ctx, readings)
}

func (s *Scheduler) logBatch(result SendResult, err error) {
	if err != nil {
		s.logger.Error("batch failed, skipping", "error", err)
		return
	}
	s.logger.Info("batch sent", "count", result.Count, "message", result.Message)
}
