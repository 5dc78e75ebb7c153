package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

const (
	DefaultOpenService = "v1/open"

	requestIDHeader = "X-Request-Id"
	openURLParam    = "external_intent_uri"
)

// DeviceInfo is sent with every request by AppendV1Parameters.
type DeviceInfo struct {
	HardwareID string
	OS         string
	OSVersion  string
	Model      string
	Brand      string
	Locale     string
}

type APIServiceConfig struct {
	ServiceRoot     string
	AppKey          string
	SDKName         string
	SDKVersion      string
	OpenServiceName string
	MaxConcurrent   int64
	RequestTimeout  time.Duration
	DefaultParams   map[string]any
	Device          DeviceInfo
}

type delivery struct {
	op         *domain.APIOperation
	completion Completion
}

// APIService posts JSON requests to the attribution API. Requests run on
// their own goroutines; completions all run on one delivery goroutine, one at
// a time, exactly once per request.
type APIService struct {
	config    APIServiceConfig
	transport Transport
	filter    BlacklistFilter
	sessions  SessionArchive
	logger    *slog.Logger

	sem        *semaphore.Weighted
	inflight   sync.WaitGroup
	deliveries chan delivery
	stopped    chan struct{}
	deliverMu  sync.Mutex // completions never overlap, before or after Close

	mu      sync.RWMutex
	session *domain.Session
	closed  bool
}

// NewAPIService starts the delivery goroutine. sessions may be nil; filter
// must not be, since OpenURL consults it for every URL.
func NewAPIService(config APIServiceConfig, transport Transport, filter BlacklistFilter, sessions SessionArchive, logger *slog.Logger) *APIService {
	if config.OpenServiceName == "" {
		config.OpenServiceName = DefaultOpenService
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &APIService{
		config:     config,
		transport:  transport,
		filter:     filter,
		sessions:   sessions,
		logger:     logger,
		sem:        semaphore.NewWeighted(config.MaxConcurrent),
		deliveries: make(chan delivery, 64),
		stopped:    make(chan struct{}),
	}

	go s.deliveryLoop()

	return s
}

// OpenURL reports an app open. A blacklisted URL is dropped without a request
// and without being logged.
func (s *APIService) OpenURL(ctx context.Context, rawURL string) {
	params := make(map[string]any)

	if strings.TrimSpace(rawURL) != "" {
		if s.filter.IsBlacklisted(rawURL) {
			s.logger.Debug("Open suppressed by URL filter")
			return
		}
		if safe, ok := stripSensitive(rawURL); ok {
			params[openURLParam] = safe
		}
	}

	s.PostOperation(ctx, s.config.OpenServiceName, params, nil)
}

// AppendV1Parameters adds app, SDK, device and session identifiers to params.
// Keys already present are left alone.
func (s *APIService) AppendV1Parameters(params map[string]any) {
	if params == nil {
		return
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if _, exists := params[key]; !exists {
			params[key] = value
		}
	}

	set("app_key", s.config.AppKey)
	set("sdk", s.config.SDKName)
	set("sdk_version", s.config.SDKVersion)

	device := s.config.Device
	set("hardware_id", device.HardwareID)
	set("os", device.OS)
	set("os_version", device.OSVersion)
	set("model", device.Model)
	set("brand", device.Brand)
	set("locale", device.Locale)

	if session := s.Session(); session != nil {
		set("identity_id", session.IdentityID)
		set("session_id", session.SessionID)
		set("device_fingerprint_id", session.DeviceFingerprintID)
	}

	for key, value := range s.config.DefaultParams {
		if _, exists := params[key]; !exists {
			params[key] = value
		}
	}
}

// PostOperation sends params to serviceName and hands the finished operation
// to completion, which may be nil. The caller's map is not modified.
func (s *APIService) PostOperation(ctx context.Context, serviceName string, params map[string]any, completion Completion) {
	op := domain.NewAPIOperation(serviceName)

	s.mu.RLock()
	closed := s.closed
	if !closed {
		s.inflight.Add(1)
	}
	s.mu.RUnlock()

	if closed {
		_ = op.MarkDispatched()
		_ = op.Fail(nil, domain.ErrServiceClosed)
		go func() {
			<-s.stopped
			s.invoke(delivery{op: op, completion: completion})
		}()
		return
	}

	body := make(map[string]any, len(params)+12)
	for key, value := range params {
		body[key] = value
	}
	s.AppendV1Parameters(body)

	go func() {
		s.execute(ctx, op, body)
		s.deliveries <- delivery{op: op, completion: completion}
	}()
}

func (s *APIService) execute(ctx context.Context, op *domain.APIOperation, body map[string]any) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		_ = op.MarkDispatched()
		_ = op.Fail(nil, domain.NewTransportError("dispatch", errors.Is(err, context.DeadlineExceeded), err))
		return
	}
	defer s.sem.Release(1)

	_ = op.MarkDispatched()

	data, err := json.Marshal(body)
	if err != nil {
		_ = op.Fail(nil, &domain.SerializationError{Err: err})
		return
	}

	req := &domain.Request{
		Method: http.MethodPost,
		URL:    s.serviceURL(op.ServiceName),
		Header: http.Header{requestIDHeader: []string{op.ID}},
		Body:   data,
	}

	start := time.Now()
	resp, err := s.transport.Do(ctx, req)
	if err != nil {
		s.logger.Warn("API request failed",
			"service", op.ServiceName,
			"operation", op.ID,
			"duration", time.Since(start),
			"error", err,
		)
		_ = op.Fail(nil, err)
		return
	}

	s.logger.Debug("API request completed",
		"service", op.ServiceName,
		"operation", op.ID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if !resp.IsSuccess() {
		_ = op.Fail(resp, &domain.ServerError{StatusCode: resp.StatusCode, Message: serverMessage(resp.Body)})
		return
	}

	session, err := decodeSession(resp.Body)
	if err != nil {
		_ = op.Fail(resp, &domain.DeserializationError{Source: "response", Err: err})
		return
	}

	_ = op.Succeed(resp, session)
	s.rememberSession(session)
}

func (s *APIService) deliveryLoop() {
	defer close(s.stopped)

	for d := range s.deliveries {
		s.invoke(d)
		s.inflight.Done()
	}
}

func (s *APIService) invoke(d delivery) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if err := d.op.MarkDelivered(); err != nil {
		s.logger.Error("Operation delivered twice", "operation", d.op.ID, "state", d.op.State())
		return
	}

	if d.completion == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Completion panicked", "operation", d.op.ID, "panic", r)
		}
	}()

	d.completion(d.op)
}

// Wait blocks until every accepted operation has been delivered. It must not
// be called from a completion.
func (s *APIService) Wait() {
	s.inflight.Wait()
}

// Close stops accepting operations, delivers the ones in flight and stops the
// delivery goroutine. Later PostOperation calls fail with
// domain.ErrServiceClosed; their completions run after the drain, one at a
// time.
func (s *APIService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	close(s.deliveries)
	<-s.stopped

	return nil
}

// Session returns the last session that carried an identity.
func (s *APIService) Session() *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// RestoreSession loads the persisted session, if any, into the cache.
func (s *APIService) RestoreSession() error {
	if s.sessions == nil {
		return nil
	}

	session, err := s.sessions.LoadSession()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("restoring session: %w", err)
	}

	s.mu.Lock()
	if s.session == nil {
		s.session = session
	}
	s.mu.Unlock()

	return nil
}

func (s *APIService) rememberSession(session *domain.Session) {
	if !session.HasIdentity() {
		return
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if s.sessions == nil {
		return
	}

	if err := s.sessions.SaveSession(session); err != nil {
		s.logger.Warn("Failed to persist session", "error", err)
	}
}

func (s *APIService) serviceURL(serviceName string) string {
	return strings.TrimRight(s.config.ServiceRoot, "/") + "/" + strings.TrimLeft(serviceName, "/")
}

// stripSensitive drops user info and the fragment. URLs that do not parse are
// not sent at all.
func stripSensitive(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}

	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), true
}

func decodeSession(body []byte) (*domain.Session, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return domain.NewSessionFromPayload(nil), nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	return domain.NewSessionFromPayload(payload), nil
}

// serverMessage pulls an error message out of a JSON error body. Non-JSON
// bodies give an empty message.
func serverMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if len(payload.Error) > 0 {
		var text string
		if err := json.Unmarshal(payload.Error, &text); err == nil {
			return text
		}

		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}

	return payload.Message
}
