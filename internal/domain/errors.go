package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyURL                  = errors.New("URL cannot be empty")
	ErrInvalidURL                = errors.New("invalid URL format")
	ErrNotFound                  = errors.New("record not found")
	ErrInvalidName               = errors.New("invalid record name")
	ErrServiceClosed             = errors.New("api service is closed")
	ErrInvalidTransition         = errors.New("invalid operation state transition")
	ErrUnsupportedArchiveVersion = errors.New("unsupported archive format version")
	ErrForeignArchiveType        = errors.New("archived object has an unexpected type")
)

// TransportError reports connectivity failures and timeouts. It never carries
// the request URL.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(op string, timeout bool, err error) *TransportError {
	return &TransportError{Op: op, Timeout: timeout, Err: err}
}

// ServerError is a non-2xx answer from the API.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

type DeserializationError struct {
	Source string
	Err    error
}

func (e *DeserializationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("deserializing %s failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("deserialization failed: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps storage read, write and remove failures.
type PersistenceError struct {
	Op   string
	Name string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q failed: %v", e.Op, e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RefreshError wraps anything that went wrong while refreshing the blacklist.
// Fetch and parse failures leave the active snapshot untouched; a failure to
// persist an already installed snapshot does not roll it back.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("blacklist refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: transport failures,
// timeouts and 5xx answers. Client errors and decoding errors are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode >= 500
	}

	return false
}
