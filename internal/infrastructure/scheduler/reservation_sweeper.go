package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/casevault/backend/internal/application/quota"
	"go.uber.org/zap"
)

// ReservationSweeper periodically reclaims abandoned reservations so their
// estimates do not pin quota forever, and garbage-collects resolved
// reservation rows past the retention window.
type ReservationSweeper struct {
	service   *quota.ReservationExpiryService
	logger    *zap.Logger
	config    ReservationSweeperConfig
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// ReservationSweeperConfig holds configuration for the reservation sweeper
type ReservationSweeperConfig struct {
	// Enabled determines if the sweeper is active
	Enabled bool

	// Interval is how often expired reservations are swept
	Interval time.Duration

	// PurgeInterval is how often resolved reservations are garbage-collected
	PurgeInterval time.Duration

	// JobTimeout is the maximum time for a single sweep
	JobTimeout time.Duration
}

// DefaultReservationSweeperConfig returns default configuration
func DefaultReservationSweeperConfig() ReservationSweeperConfig {
	return ReservationSweeperConfig{
		Enabled:       true,
		Interval:      time.Minute,
		PurgeInterval: time.Hour,
		JobTimeout:    5 * time.Minute,
	}
}

// Validate checks the configuration
func (c ReservationSweeperConfig) Validate() error {
	if c.Interval <= 0 || c.PurgeInterval <= 0 || c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// NewReservationSweeper creates a new reservation sweeper
func NewReservationSweeper(
	service *quota.ReservationExpiryService,
	logger *zap.Logger,
	config ReservationSweeperConfig,
) *ReservationSweeper {
	return &ReservationSweeper{
		service: service,
		logger:  logger,
		config:  config,
	}
}

// Start starts the sweep and purge loops
func (s *ReservationSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Reservation sweeper is disabled")
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

	s.wg.Add(2)
	go s.runSweep(ctx)
	go s.runPurge(ctx)

	s.logger.Info("Reservation sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("purge_interval", s.config.PurgeInterval),
	)

	return nil
}

// Stop gracefully stops the sweeper
func (s *ReservationSweeper) Stop(ctx context.Context) error {
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
		s.logger.Info("Reservation sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reservation sweeper stop timed out")
		return ctx.Err()
	}
}

func (s *ReservationSweeper) runSweep(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reservation sweep loop stopping")
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

func (s *ReservationSweeper) runPurge(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reservation purge loop stopping")
			return
		case <-ticker.C:
			s.executePurge(ctx)
		}
	}
}

func (s *ReservationSweeper) executeSweep(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	startTime := time.Now()
	stats, err := s.service.ReleaseExpired(jobCtx, startTime)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Reservation sweep failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	if stats.TotalExpired == 0 {
		return
	}

	s.logger.Info("Reservation sweep completed",
		zap.Duration("duration", duration),
		zap.Int("total_expired", stats.TotalExpired),
		zap.Int("reclaimed", stats.SuccessExpired),
		zap.Int("failed", stats.FailedExpiries),
	)
}

func (s *ReservationSweeper) executePurge(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	startTime := time.Now()
	deleted, err := s.service.PurgeResolved(jobCtx, startTime)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Reservation purge failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	if deleted > 0 {
		s.logger.Info("Reservation purge completed",
			zap.Duration("duration", duration),
			zap.Int64("deleted", deleted),
		)
	}
}

// TriggerImmediate triggers an immediate sweep without waiting for the tick
func (s *ReservationSweeper) TriggerImmediate(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate reservation sweep")

	go func() {
		defer s.wg.Done()
		s.executeSweep(ctx)
	}()

	return nil
}

// IsRunning returns whether the sweeper is running
func (s *ReservationSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
