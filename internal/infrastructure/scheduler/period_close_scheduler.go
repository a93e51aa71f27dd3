package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/casevault/backend/internal/application/quota"
	"go.uber.org/zap"
)

// PeriodCloseScheduler periodically rolls lapsed billing periods and settles
// their usage counters. It runs on an interval rather than a fixed hour so
// that a period never stays open much longer than one tick past its end.
// Several instances may run concurrently; optimistic locking on the
// subscription roll makes sure each period is closed once.
type PeriodCloseScheduler struct {
	service   *quota.PeriodCloseService
	logger    *zap.Logger
	config    PeriodCloseSchedulerConfig
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// PeriodCloseSchedulerConfig holds configuration for the period close scheduler
type PeriodCloseSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is how often lapsed periods are looked for
	Interval time.Duration

	// JobTimeout is the maximum time for a single close run
	JobTimeout time.Duration
}

// DefaultPeriodCloseSchedulerConfig returns default configuration
func DefaultPeriodCloseSchedulerConfig() PeriodCloseSchedulerConfig {
	return PeriodCloseSchedulerConfig{
		Enabled:    true,
		Interval:   5 * time.Minute,
		JobTimeout: 10 * time.Minute,
	}
}

// Validate checks the configuration
func (c PeriodCloseSchedulerConfig) Validate() error {
	if c.Interval <= 0 || c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// NewPeriodCloseScheduler creates a new period close scheduler
func NewPeriodCloseScheduler(
	service *quota.PeriodCloseService,
	logger *zap.Logger,
	config PeriodCloseSchedulerConfig,
) *PeriodCloseScheduler {
	return &PeriodCloseScheduler{
		service: service,
		logger:  logger,
		config:  config,
	}
}

// Start starts the scheduler loop
func (s *PeriodCloseScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Period close scheduler is disabled")
		return nil
	}
	if err := s.config.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Period close scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *PeriodCloseScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Period close scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Period close scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *PeriodCloseScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Period close loop stopping")
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *PeriodCloseScheduler) execute(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	startTime := time.Now()
	stats, err := s.service.CloseDue(jobCtx, startTime)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Period close run failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	if stats.SubscriptionsDue == 0 {
		s.logger.Debug("Period close run found nothing due",
			zap.Duration("duration", duration),
		)
		return
	}

	s.logger.Info("Period close run completed",
		zap.Duration("duration", duration),
		zap.Int("subscriptions_due", stats.SubscriptionsDue),
		zap.Int("subscriptions_rolled", stats.SubscriptionsRolled),
		zap.Int("counters_closed", stats.CountersClosed),
		zap.Int("reservations_expired", stats.ReservationsExpired),
		zap.Int("charges_finalized", stats.ChargesFinalized),
		zap.Int("failures", stats.Failures),
	)
}

// TriggerImmediate triggers an immediate close run without waiting for the tick
func (s *PeriodCloseScheduler) TriggerImmediate(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate period close run")

	go func() {
		defer s.wg.Done()
		s.execute(ctx)
	}()

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *PeriodCloseScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
