package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

const acceptEncoding = "br, gzip"

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds transport settings
type Config struct {
	Timeout          time.Duration
	UserAgent        string
	MaxResponseBytes int64
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		UserAgent:        "attribution-core/1.0",
		MaxResponseBytes: 10 << 20,
	}
}

// Client sends domain requests over HTTP and returns fully read, decoded
// responses. Non-2xx statuses are returned as responses, not errors.
type Client struct {
	doer   HTTPDoer
	config Config
}

func NewClient(config Config) *Client {
	config = withDefaults(config)

	return NewClientWithDoer(&http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			// Bodies are decoded here so brotli is supported too.
			DisableCompression: true,
		},
	}, config)
}

func NewClientWithDoer(doer HTTPDoer, config Config) *Client {
	return &Client{
		doer:   doer,
		config: withDefaults(config),
	}
}

func withDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaults.MaxResponseBytes
	}
	return config
}

// Do sends req and reads the whole response. Connectivity failures come back
// as *domain.TransportError, undecodable or oversized 2xx bodies as
// *domain.DeserializationError. Other statuses with such bodies come back as
// a response with an empty body.
func (c *Client) Do(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if req == nil {
		return nil, &domain.SerializationError{Err: fmt.Errorf("nil request")}
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		// The URL may carry caller data, so only the category is reported.
		return nil, &domain.SerializationError{Err: fmt.Errorf("building %s request: %w", method, domain.ErrInvalidURL)}
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportError("send", isTimeout(ctx, err), stripURL(err))
	}
	defer resp.Body.Close()

	// A non-2xx status is reported even when its body is unusable.
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	var data []byte
	if resp.ContentLength > c.config.MaxResponseBytes {
		if success {
			return nil, &domain.DeserializationError{
				Source: "response",
				Err:    fmt.Errorf("response too large: %d bytes", resp.ContentLength),
			}
		}
	} else {
		data, err = c.readBody(ctx, resp)
		if err != nil {
			var decodeErr *domain.DeserializationError
			if success || !errors.As(err, &decodeErr) {
				return nil, err
			}
			data = nil
		}
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       data,
	}, nil
}

// readBody decodes the body and enforces the size limit on the decoded bytes.
func (c *Client) readBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	raw := &trackingReader{r: resp.Body}

	decoded, err := decoder(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		if raw.err != nil {
			return nil, domain.NewTransportError("read", isTimeout(ctx, raw.err), stripURL(raw.err))
		}
		return nil, &domain.DeserializationError{Source: "response", Err: err}
	}

	data, err := io.ReadAll(io.LimitReader(decoded, c.config.MaxResponseBytes+1))
	if err != nil {
		if raw.err != nil {
			return nil, domain.NewTransportError("read", isTimeout(ctx, raw.err), stripURL(raw.err))
		}
		return nil, &domain.DeserializationError{Source: "response", Err: err}
	}

	if int64(len(data)) > c.config.MaxResponseBytes {
		return nil, &domain.DeserializationError{
			Source: "response",
			Err:    fmt.Errorf("response exceeds %d bytes", c.config.MaxResponseBytes),
		}
	}

	return data, nil
}

func decoder(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "br":
		return brotli.NewReader(r), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// trackingReader remembers the first non-EOF error of the underlying body so
// network failures can be told apart from decoder failures.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// stripURL drops the request URL that net/http puts into its errors.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
