package application

import (
	"context"
	"net/http"
	"sync"

	"github.com/kerim-dauren/attribution-core/internal/domain"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/normalizer"
	"github.com/kerim-dauren/attribution-core/internal/infrastructure/registry"
)

// stubClient answers PostOperation from respond and delivers on its own
// goroutine, like APIService does.
type stubClient struct {
	mu       sync.Mutex
	services []string
	params   []map[string]any
	respond  func(ctx context.Context, call int) (*domain.Response, error)
}

func (c *stubClient) PostOperation(ctx context.Context, serviceName string, params map[string]any, completion Completion) {
	c.mu.Lock()
	c.services = append(c.services, serviceName)
	c.params = append(c.params, params)
	call := len(c.params)
	c.mu.Unlock()

	op := domain.NewAPIOperation(serviceName)
	_ = op.MarkDispatched()

	resp, err := c.respond(ctx, call)
	if err != nil {
		_ = op.Fail(resp, err)
	} else {
		_ = op.Succeed(resp, nil)
	}

	go func() {
		_ = op.MarkDelivered()
		if completion != nil {
			completion(op)
		}
	}()
}

func (c *stubClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.params)
}

func jsonResponse(status int, body string) *domain.Response {
	return &domain.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
}

// memoryArchive is an in-memory SnapshotArchive and SessionArchive.
type memoryArchive struct {
	mu       sync.Mutex
	snapshot *domain.BlacklistSnapshot
	session  *domain.Session
	saves    []int64
	saveErr  error
	loadErr  error
}

func (a *memoryArchive) SaveSnapshot(snapshot *domain.BlacklistSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.saveErr != nil {
		return a.saveErr
	}
	a.snapshot = snapshot
	a.saves = append(a.saves, snapshot.Version())
	return nil
}

func (a *memoryArchive) LoadSnapshot() (*domain.BlacklistSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loadErr != nil {
		return nil, a.loadErr
	}
	if a.snapshot == nil {
		return nil, domain.ErrNotFound
	}
	return a.snapshot, nil
}

func (a *memoryArchive) SaveSession(session *domain.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.saveErr != nil {
		return a.saveErr
	}
	a.session = session
	return nil
}

func (a *memoryArchive) LoadSession() (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return nil, domain.ErrNotFound
	}
	return a.session, nil
}

func (a *memoryArchive) savedSession() *domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *memoryArchive) savedVersions() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.saves...)
}

func createTestBlacklist(version int64, patterns []string, opts ...BlacklistOption) *URLBlacklist {
	opts = append([]BlacklistOption{WithParser(registry.NewParser())}, opts...)
	return NewURLBlacklist(patterns, version, normalizer.NewURLNormalizer(), opts...)
}
