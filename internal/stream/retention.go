package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskwise/taskwise/internal/observability"
)

// RetentionConfig configures the stream retention sweeper.
type RetentionConfig struct {
	// RetentionDays is how long a stream's events are kept after its start
	// event. Zero disables the sweeper.
	RetentionDays int

	// Schedule is a standard 5-field cron expression for when sweeps run.
	// Defaults to 03:00 daily.
	Schedule string
}

// Sweeper periodically deletes streams older than the retention window.
type Sweeper struct {
	bridge *Bridge
	config RetentionConfig
	logger *observability.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a retention sweeper over the bridge so both streaming
// backends are cleaned together.
func NewSweeper(bridge *Bridge, config RetentionConfig, logger *observability.Logger) (*Sweeper, error) {
	if bridge == nil {
		return nil, errors.New("bridge is required")
	}
	if config.RetentionDays < 0 {
		return nil, fmt.Errorf("retention days must not be negative, got %d", config.RetentionDays)
	}
	if config.Schedule == "" {
		config.Schedule = "0 3 * * *"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Sweeper{
		bridge: bridge,
		config: config,
		logger: logger,
		cron:   cron.New(),
	}, nil
}

// Start schedules the sweep. A zero retention window means streams are kept
// forever and Start is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper already running")
	}
	if s.config.RetentionDays == 0 {
		s.logger.Info(context.Background(), "stream retention disabled, keeping streams forever")
		return nil
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error(context.Background(), "stream retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info(context.Background(), "stream retention sweeper started",
		"schedule", s.config.Schedule, "retention_days", s.config.RetentionDays)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Sweep deletes all streams older than the retention window. Exposed so an
// operator can trigger it outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if s.config.RetentionDays == 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)

	deleted, err := s.bridge.DeleteStreamsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired streams: %w", err)
	}
	if deleted > 0 {
		s.logger.Info(ctx, "deleted expired streams",
			"deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
