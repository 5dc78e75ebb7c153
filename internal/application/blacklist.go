package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kerim-dauren/attribution-core/internal/domain"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/storage"
)

const DefaultBlacklistService = "v1/uriskiplist"

// RefreshResult describes the active snapshot after a refresh.
type RefreshResult struct {
	Snapshot *domain.BlacklistSnapshot
	Replaced bool
}

type RefreshCompletion func(result RefreshResult, err error)

// URLBlacklist decides whether a URL may be sent to the attribution API.
// Reads go straight to the current snapshot; refreshes build a new snapshot
// and swap it in.
type URLBlacklist struct {
	normalizer  URLNormalizer
	store       BlacklistStore
	archive     SnapshotArchive
	parser      SnapshotParser
	serviceName string
	logger      *slog.Logger

	// persistMu serializes writers of the persisted copy. Readers never take it.
	persistMu sync.Mutex
	persisted int64
}

type BlacklistOption func(*URLBlacklist)

// WithArchive persists replaced snapshots and enables Restore.
func WithArchive(archive SnapshotArchive) BlacklistOption {
	return func(b *URLBlacklist) {
		b.archive = archive
	}
}

func WithParser(parser SnapshotParser) BlacklistOption {
	return func(b *URLBlacklist) {
		b.parser = parser
	}
}

func WithServiceName(name string) BlacklistOption {
	return func(b *URLBlacklist) {
		if name != "" {
			b.serviceName = name
		}
	}
}

func WithLogger(logger *slog.Logger) BlacklistOption {
	return func(b *URLBlacklist) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewURLBlacklist builds the blacklist from its bundled patterns. A parser
// must be supplied with WithParser before Refresh is used.
func NewURLBlacklist(patterns []string, version int64, normalizer URLNormalizer, opts ...BlacklistOption) *URLBlacklist {
	b := &URLBlacklist{
		normalizer:  normalizer,
		store:       storage.NewSnapshotStore(domain.NewBlacklistSnapshot(version, patterns)),
		serviceName: DefaultBlacklistService,
		logger:      slog.Default(),
		persisted:   -1,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *URLBlacklist) IsBlacklisted(rawURL string) bool {
	_, found := b.MatchingPattern(rawURL)
	return found
}

// MatchingPattern returns the first pattern, in snapshot order, that matches
// rawURL. Empty URLs match nothing.
func (b *URLBlacklist) MatchingPattern(rawURL string) (string, bool) {
	url, err := domain.NewURL(rawURL)
	if err != nil {
		return "", false
	}

	if err := b.normalizer.NormalizeURL(url); err != nil {
		return "", false
	}

	return b.store.Current().Match(url.MatchTarget())
}

func (b *URLBlacklist) Snapshot() *domain.BlacklistSnapshot {
	return b.store.Current()
}

func (b *URLBlacklist) Stats() BlacklistStats {
	stats := b.store.Stats()

	return BlacklistStats{
		Version:      stats.Version,
		Patterns:     stats.Patterns,
		Replacements: stats.Replacements,
		LastUpdate:   stats.LastUpdate.Format(time.RFC3339),
	}
}

// Refresh asks the API for the current blacklist. The snapshot is replaced
// only when the server version is strictly greater, and the new snapshot is
// persisted before completion runs. On failure the active snapshot stays.
func (b *URLBlacklist) Refresh(ctx context.Context, api APIClient, completion RefreshCompletion) {
	params := map[string]any{
		"version": b.store.Current().Version(),
	}

	api.PostOperation(ctx, b.serviceName, params, func(op *domain.APIOperation) {
		result, err := b.apply(op)
		if completion != nil {
			completion(result, err)
		}
	})
}

// RefreshWait is Refresh for callers that can block.
func (b *URLBlacklist) RefreshWait(ctx context.Context, api APIClient) (RefreshResult, error) {
	type outcome struct {
		result RefreshResult
		err    error
	}

	done := make(chan outcome, 1)
	b.Refresh(ctx, api, func(result RefreshResult, err error) {
		done <- outcome{result: result, err: err}
	})

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return RefreshResult{Snapshot: b.store.Current()}, &domain.RefreshError{Err: ctx.Err()}
	}
}

func (b *URLBlacklist) apply(op *domain.APIOperation) (RefreshResult, error) {
	current := b.store.Current()
	unchanged := RefreshResult{Snapshot: current}

	if op.Err != nil {
		b.logger.Warn("Blacklist refresh failed", "operation", op.ID, "error", op.Err)
		return unchanged, &domain.RefreshError{Err: op.Err}
	}

	if op.Response == nil {
		return unchanged, &domain.RefreshError{Err: &domain.DeserializationError{Source: "blacklist", Err: fmt.Errorf("no response")}}
	}

	if b.parser == nil {
		return unchanged, &domain.RefreshError{Err: fmt.Errorf("no blacklist parser configured")}
	}

	next, err := b.parser.Parse(op.Response.Body)
	if err != nil {
		b.logger.Warn("Blacklist payload rejected", "operation", op.ID, "error", err)
		return unchanged, &domain.RefreshError{Err: &domain.DeserializationError{Source: "blacklist", Err: err}}
	}

	if !b.store.Replace(next) {
		b.logger.Debug("Blacklist already current",
			"active_version", b.store.Current().Version(),
			"server_version", next.Version(),
		)
		return RefreshResult{Snapshot: b.store.Current()}, nil
	}

	b.logger.Info("Blacklist updated",
		"previous_version", current.Version(),
		"version", next.Version(),
		"patterns", next.Len(),
	)

	result := RefreshResult{Snapshot: next, Replaced: true}
	if err := b.persist(next); err != nil {
		b.logger.Error("Failed to persist blacklist snapshot", "version", next.Version(), "error", err)
		return result, &domain.RefreshError{Err: err}
	}

	return result, nil
}

// persist writes the newest snapshot it knows of. An older version is never
// written over a newer one.
func (b *URLBlacklist) persist(snapshot *domain.BlacklistSnapshot) error {
	if b.archive == nil {
		return nil
	}

	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	if current := b.store.Current(); current.Version() > snapshot.Version() {
		snapshot = current
	}

	if snapshot.Version() <= b.persisted {
		return nil
	}

	if err := b.archive.SaveSnapshot(snapshot); err != nil {
		return err
	}

	b.persisted = snapshot.Version()
	return nil
}

// Restore installs the persisted snapshot when it is newer than the active
// one. A missing record is not an error.
func (b *URLBlacklist) Restore() (bool, error) {
	if b.archive == nil {
		return false, nil
	}

	snapshot, err := b.archive.LoadSnapshot()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("restoring blacklist snapshot: %w", err)
	}

	b.persistMu.Lock()
	if snapshot.Version() > b.persisted {
		b.persisted = snapshot.Version()
	}
	b.persistMu.Unlock()

	if !b.store.Replace(snapshot) {
		return false, nil
	}

	b.logger.Info("Blacklist restored", "version", snapshot.Version(), "patterns", snapshot.Len())
	return true, nil
}
