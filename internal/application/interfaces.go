package application

import (
	"context"

	"github.com/kerim-dauren/attribution-core/internal/domain"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/storage"
)

type URLNormalizer interface {
	Normalize(rawURL string) (string, error)
	NormalizeURL(url *domain.URL) error
}

// BlacklistStore holds the active snapshot. Replace must only install
// strictly newer versions.
type BlacklistStore interface {
	Current() *domain.BlacklistSnapshot
	Replace(next *domain.BlacklistSnapshot) bool
	Stats() storage.StoreStats
}

type SnapshotArchive interface {
	SaveSnapshot(snapshot *domain.BlacklistSnapshot) error
	LoadSnapshot() (*domain.BlacklistSnapshot, error)
}

type SessionArchive interface {
	SaveSession(session *domain.Session) error
	LoadSession() (*domain.Session, error)
}

type SnapshotParser interface {
	Parse(data []byte) (*domain.BlacklistSnapshot, error)
}

type Transport interface {
	Do(ctx context.Context, req *domain.Request) (*domain.Response, error)
}

// Completion receives the finished operation exactly once.
type Completion func(op *domain.APIOperation)

// APIClient posts a parameter set to a named service.
type APIClient interface {
	PostOperation(ctx context.Context, serviceName string, params map[string]any, completion Completion)
}

// APIClientFunc adapts a function to APIClient.
type APIClientFunc func(ctx context.Context, serviceName string, params map[string]any, completion Completion)

func (f APIClientFunc) PostOperation(ctx context.Context, serviceName string, params map[string]any, completion Completion) {
	f(ctx, serviceName, params, completion)
}

type BlacklistFilter interface {
	IsBlacklisted(rawURL string) bool
	MatchingPattern(rawURL string) (string, bool)
}

type BlacklistStats struct {
	Version      int64  `json:"version"`
	Patterns     int64  `json:"patterns"`
	Replacements int64  `json:"replacements"`
	LastUpdate   string `json:"last_update"`
}
