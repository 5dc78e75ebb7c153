package domain

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type OperationState int

const (
	OperationCreated OperationState = iota
	OperationDispatched
	OperationSucceeded
	OperationFailed
	OperationCompletionDelivered
)

func (s OperationState) String() string {
	switch s {
	case OperationCreated:
		return "created"
	case OperationDispatched:
		return "dispatched"
	case OperationSucceeded:
		return "succeeded"
	case OperationFailed:
		return "failed"
	case OperationCompletionDelivered:
		return "completion_delivered"
	default:
		return "unknown"
	}
}

// Request is what the transport sends.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the completed transport handle with a decoded body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// APIOperation is the result of one API call. Its fields are written once when
// the call finishes and are read-only after that.
type APIOperation struct {
	ID          string
	ServiceName string
	Response    *Response
	Err         error
	Session     *Session
	CreatedAt   time.Time
	FinishedAt  time.Time

	mu    sync.Mutex
	state OperationState
}

func NewAPIOperation(serviceName string) *APIOperation {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &APIOperation{
		ID:          id.String(),
		ServiceName: serviceName,
		CreatedAt:   time.Now(),
		state:       OperationCreated,
	}
}

func (op *APIOperation) State() OperationState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

func (op *APIOperation) MarkDispatched() error {
	return op.transition(OperationCreated, OperationDispatched, nil)
}

func (op *APIOperation) Succeed(resp *Response, session *Session) error {
	return op.transition(OperationDispatched, OperationSucceeded, func() {
		op.Response = resp
		op.Session = session
		op.FinishedAt = time.Now()
	})
}

func (op *APIOperation) Fail(resp *Response, err error) error {
	return op.transition(OperationDispatched, OperationFailed, func() {
		op.Response = resp
		op.Err = err
		op.FinishedAt = time.Now()
	})
}

// MarkDelivered is the terminal transition. It fails when called twice, which
// is what keeps completions single-shot.
func (op *APIOperation) MarkDelivered() error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.state != OperationSucceeded && op.state != OperationFailed {
		return ErrInvalidTransition
	}
	op.state = OperationCompletionDelivered
	return nil
}

func (op *APIOperation) transition(from, to OperationState, apply func()) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.state != from {
		return ErrInvalidTransition
	}
	if apply != nil {
		apply()
	}
	op.state = to
	return nil
}
