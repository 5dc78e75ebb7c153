// Package attribution is the network, URL-safety and persistence core of an
// attribution SDK. New wires an SDK from a Config; everything else hangs off
// the returned value.
package attribution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/grpc/backoff"

	"github.com/kerim-dauren/attribution-core/internal/application"
	"github.com/kerim-dauren/attribution-core/internal/domain"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/config"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/normalizer"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/registry"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/storage"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/transport"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/updater"
)

type (
	Config            = config.Config
	APIOperation      = domain.APIOperation
	Session           = domain.Session
	BlacklistSnapshot = domain.BlacklistSnapshot
	Completion        = application.Completion
	RefreshResult     = application.RefreshResult
	BlacklistStats    = application.BlacklistStats
	SchedulerStatus   = updater.Status
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads defaults, an optional file and ATTRIBUTION_* variables.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// NewLogger builds the slog logger described by cfg.Logging.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	return config.NewLogger(cfg.Logging, w)
}

type options struct {
	logger *slog.Logger
	doer   transport.HTTPDoer
}

type Option func(*options)

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sends requests through doer instead of a default client.
func WithHTTPClient(doer transport.HTTPDoer) Option {
	return func(o *options) {
		o.doer = doer
	}
}

type SDK struct {
	cfg    *Config
	logger *slog.Logger

	storeCloser io.Closer
	blacklist   *application.URLBlacklist
	api         *application.APIService
	client      *application.RetryingClient
	scheduler   *updater.Scheduler
	cancel      context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, restores persisted state and, when auto refresh is on,
// starts the blacklist refresh scheduler. A nil cfg means DefaultConfig.
func New(cfg *Config, opts ...Option) (*SDK, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = config.NewLogger(cfg.Logging, os.Stderr)
	}
	logger := o.logger

	sdk := &SDK{cfg: cfg, logger: logger}

	records, err := sdk.openStore()
	if err != nil {
		return nil, err
	}
	archive := storage.NewRecordArchive(storage.NewArchiver(records))

	sdk.blacklist = application.NewURLBlacklist(
		cfg.Blacklist.Patterns,
		cfg.Blacklist.Version,
		normalizer.NewURLNormalizer(),
		application.WithArchive(archive),
		application.WithParser(registry.NewParser()),
		application.WithServiceName(cfg.Blacklist.Service),
		application.WithLogger(logger),
	)
	if _, err := sdk.blacklist.Restore(); err != nil {
		logger.Warn("Ignoring persisted blacklist", "error", err)
	}

	transportConfig := transport.Config{
		Timeout:          cfg.API.Timeout,
		UserAgent:        cfg.API.UserAgent,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
	}
	var httpTransport *transport.Client
	if o.doer != nil {
		httpTransport = transport.NewClientWithDoer(o.doer, transportConfig)
	} else {
		httpTransport = transport.NewClient(transportConfig)
	}

	sdk.api = application.NewAPIService(application.APIServiceConfig{
		ServiceRoot:     cfg.API.ServiceRoot,
		AppKey:          cfg.API.AppKey,
		SDKName:         "attribution-go",
		SDKVersion:      Version,
		OpenServiceName: cfg.API.OpenService,
		MaxConcurrent:   cfg.API.MaxConcurrent,
		RequestTimeout:  cfg.API.Timeout,
		Device: application.DeviceInfo{
			HardwareID: cfg.Device.HardwareID,
			OS:         cfg.Device.OS,
			OSVersion:  cfg.Device.OSVersion,
			Model:      cfg.Device.Model,
			Brand:      cfg.Device.Brand,
			Locale:     cfg.Device.Locale,
		},
	}, httpTransport, sdk.blacklist, archive, logger)

	if err := sdk.api.RestoreSession(); err != nil {
		logger.Warn("Ignoring persisted session", "error", err)
	}

	sdk.client = application.NewRetryingClient(sdk.api, application.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: backoff.Config{
			BaseDelay:  cfg.Retry.BaseDelay,
			Multiplier: cfg.Retry.Multiplier,
			Jitter:     cfg.Retry.Jitter,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
	}, logger)

	if cfg.Blacklist.AutoRefresh {
		ctx, cancel := context.WithCancel(context.Background())
		sdk.cancel = cancel
		// The scheduler retries on its own, so it talks to the API directly.
		sdk.scheduler = updater.NewScheduler(updater.RefreshFunc(func(ctx context.Context) (*domain.BlacklistSnapshot, error) {
			result, err := sdk.blacklist.RefreshWait(ctx, sdk.api)
			return result.Snapshot, err
		}), cfg.Blacklist.UpdateConfig, logger)

		if err := sdk.scheduler.Start(ctx); err != nil {
			cancel()
			_ = sdk.Close()
			return nil, fmt.Errorf("starting blacklist scheduler: %w", err)
		}
	}

	logger.Info("Attribution SDK ready",
		"blacklist_version", sdk.blacklist.Snapshot().Version(),
		"storage_backend", cfg.Storage.Backend,
	)

	return sdk, nil
}

func (s *SDK) openStore() (storage.PersistentStore, error) {
	dir := s.cfg.Storage.Directory
	if dir == "" {
		dir = storage.DataDirectory(s.cfg.Storage.AppGroup)
	}

	switch s.cfg.Storage.Backend {
	case "sqlite":
		store, err := storage.OpenSQLStore(filepath.Join(dir, "records.db"))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		s.storeCloser = store
		return store, nil
	default:
		return storage.NewFileStore(dir, s.logger), nil
	}
}

// OpenURL reports an app open unless rawURL is blacklisted, in which case
// nothing is sent.
func (s *SDK) OpenURL(ctx context.Context, rawURL string) {
	s.api.OpenURL(ctx, rawURL)
}

// PostOperation posts params to serviceName with retries on transient
// failures. completion, if not nil, runs exactly once.
func (s *SDK) PostOperation(ctx context.Context, serviceName string, params map[string]any, completion Completion) {
	s.client.PostOperation(ctx, serviceName, params, completion)
}

func (s *SDK) AppendV1Parameters(params map[string]any) {
	s.api.AppendV1Parameters(params)
}

func (s *SDK) IsBlacklisted(rawURL string) bool {
	return s.blacklist.IsBlacklisted(rawURL)
}

func (s *SDK) MatchingPattern(rawURL string) (string, bool) {
	return s.blacklist.MatchingPattern(rawURL)
}

// RefreshBlacklist fetches the server blacklist now and waits for the result.
func (s *SDK) RefreshBlacklist(ctx context.Context) (RefreshResult, error) {
	return s.blacklist.RefreshWait(ctx, s.client)
}

// TriggerRefresh asks the scheduler for a refresh without waiting. It does
// nothing when auto refresh is off.
func (s *SDK) TriggerRefresh() {
	if s.scheduler != nil {
		s.scheduler.TriggerUpdate()
	}
}

func (s *SDK) Blacklist() *BlacklistSnapshot {
	return s.blacklist.Snapshot()
}

func (s *SDK) BlacklistStats() BlacklistStats {
	return s.blacklist.Stats()
}

// SchedulerStatus reports the refresh scheduler; ok is false when auto
// refresh is off.
func (s *SDK) SchedulerStatus() (status SchedulerStatus, ok bool) {
	if s.scheduler == nil {
		return SchedulerStatus{}, false
	}
	return s.scheduler.GetStatus(), true
}

func (s *SDK) Session() *Session {
	return s.api.Session()
}

// Wait blocks until every posted operation, retries included, has completed.
func (s *SDK) Wait() {
	s.client.Wait()
	s.api.Wait()
}

// Close stops the scheduler, delivers in-flight operations and releases the
// store. It is safe to call more than once.
func (s *SDK) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.scheduler != nil {
			// Already stopped when the cancelled context ended the loop.
			_ = s.scheduler.Stop()
		}
		if s.client != nil {
			s.client.Wait()
		}
		if s.api != nil {
			_ = s.api.Close()
		}
		if s.storeCloser != nil {
			if err := s.storeCloser.Close(); err != nil {
				s.closeErr = err
			}
		}
	})

	return s.closeErr
}
