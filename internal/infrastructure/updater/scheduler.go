package updater

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

// Refresher fetches the server blacklist and installs it when it is newer.
// It returns the snapshot that is active afterwards.
type Refresher interface {
	RefreshBlacklist(ctx context.Context) (*domain.BlacklistSnapshot, error)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context) (*domain.BlacklistSnapshot, error)

func (f RefreshFunc) RefreshBlacklist(ctx context.Context) (*domain.BlacklistSnapshot, error) {
	return f(ctx)
}

// Scheduler manages periodic blacklist refreshes
type Scheduler struct {
	// Dependencies
	refresher Refresher
	logger    *slog.Logger

	// Configuration
	interval      time.Duration
	maxRetries    int
	retryDelay    time.Duration
	updateTimeout time.Duration

	// State
	mu                  sync.RWMutex
	running             bool
	started             bool
	lastUpdate          time.Time
	lastError           error
	consecutiveFailures int
	totalUpdates        int
	successfulUpdates   int
	activeVersion       int64
	activePatterns      int

	// Control channels
	stopCh    chan struct{}
	stopOnce  sync.Once
	triggerCh chan struct{}
	doneCh    chan struct{}
}

// Config holds configuration for the refresh scheduler
type Config struct {
	Interval      time.Duration `mapstructure:"interval"`       // How often to refresh
	MaxRetries    int           `mapstructure:"max_retries"`    // Attempts per scheduled refresh
	RetryDelay    time.Duration `mapstructure:"retry_delay"`    // Delay before the first retry, doubled after
	UpdateTimeout time.Duration `mapstructure:"update_timeout"` // Timeout for one scheduled refresh, retries included
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Interval:      24 * time.Hour,
		MaxRetries:    2,
		RetryDelay:    time.Minute,
		UpdateTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new refresh scheduler
func NewScheduler(refresher Refresher, config Config, logger *slog.Logger) *Scheduler {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = defaults.UpdateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		refresher:     refresher,
		logger:        logger,
		interval:      config.Interval,
		maxRetries:    config.MaxRetries,
		retryDelay:    config.RetryDelay,
		updateTimeout: config.UpdateTimeout,
		stopCh:        make(chan struct{}),
		triggerCh:     make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the refresh loop. The first refresh runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler cannot be restarted")
	}
	s.running = true
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)

	return nil
}

// Stop stops the scheduler and waits for an in-flight refresh to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Unlock()

	<-s.doneCh

	return nil
}

// TriggerUpdate requests an immediate refresh
func (s *Scheduler) TriggerUpdate() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		// Channel is full, refresh already pending
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.performUpdate(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.performUpdate(ctx)
		case <-s.triggerCh:
			s.performUpdate(ctx)
		}
	}
}

// performUpdate runs one refresh with retry logic
func (s *Scheduler) performUpdate(ctx context.Context) {
	s.mu.Lock()
	s.totalUpdates++
	s.mu.Unlock()

	updateCtx, cancel := context.WithTimeout(ctx, s.updateTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-updateCtx.Done():
				s.recordFailure(updateCtx.Err())
				return
			case <-s.stopCh:
				s.recordFailure(fmt.Errorf("scheduler stopped"))
				return
			case <-time.After(delay):
			}
		}

		snapshot, err := s.refresher.RefreshBlacklist(updateCtx)
		if err == nil {
			s.recordSuccess(snapshot)
			return
		}

		lastErr = err
	}

	s.recordFailure(fmt.Errorf("all retry attempts failed, last error: %w", lastErr))
}

func (s *Scheduler) recordSuccess(snapshot *domain.BlacklistSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUpdate = time.Now()
	s.lastError = nil
	s.consecutiveFailures = 0
	s.successfulUpdates++
	if snapshot != nil {
		s.activeVersion = snapshot.Version()
		s.activePatterns = snapshot.Len()
	}

	s.logger.Debug("Scheduled blacklist refresh finished", "version", s.activeVersion)
}

func (s *Scheduler) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = err
	s.consecutiveFailures++

	s.logger.Warn("Scheduled blacklist refresh failed",
		"consecutive_failures", s.consecutiveFailures,
		"error", err,
	)
}

// GetStatus returns the current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Running:             s.running,
		LastUpdate:          s.lastUpdate,
		LastError:           s.lastError,
		ConsecutiveFailures: s.consecutiveFailures,
		TotalUpdates:        s.totalUpdates,
		SuccessfulUpdates:   s.successfulUpdates,
		NextUpdate:          s.getNextUpdateTime(),
		ActiveVersion:       s.activeVersion,
		ActivePatterns:      s.activePatterns,
	}
}

func (s *Scheduler) getNextUpdateTime() time.Time {
	if s.lastUpdate.IsZero() {
		return time.Now()
	}
	return s.lastUpdate.Add(s.interval)
}

// IsHealthy returns true if the scheduler is operating normally
func (s *Scheduler) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.consecutiveFailures >= 5 {
		return false
	}

	if !s.lastUpdate.IsZero() && time.Since(s.lastUpdate) > s.interval*2 {
		return false
	}

	return true
}

// Status represents the current state of the scheduler
type Status struct {
	Running             bool
	LastUpdate          time.Time
	LastError           error
	ConsecutiveFailures int
	TotalUpdates        int
	SuccessfulUpdates   int
	NextUpdate          time.Time
	ActiveVersion       int64
	ActivePatterns      int
}

// SuccessRate returns the success rate as a percentage
func (s Status) SuccessRate() float64 {
	if s.TotalUpdates == 0 {
		return 0
	}
	return float64(s.SuccessfulUpdates) / float64(s.TotalUpdates) * 100
}
