package domain

import (
	"errors"
	"testing"
)

func TestAPIOperation_SuccessPath(t *testing.T) {
	op := NewAPIOperation("v1/open")

	if op.ID == "" {
		t.Fatal("NewAPIOperation() produced an empty id")
	}
	if op.State() != OperationCreated {
		t.Fatalf("initial state = %v, want %v", op.State(), OperationCreated)
	}

	if err := op.Succeed(&Response{StatusCode: 200}, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Succeed() before dispatch error = %v, want ErrInvalidTransition", err)
	}

	if err := op.MarkDispatched(); err != nil {
		t.Fatalf("MarkDispatched() error = %v", err)
	}

	session := &Session{SessionID: "s-1"}
	if err := op.Succeed(&Response{StatusCode: 200}, session); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}

	if op.Session != session || op.Err != nil {
		t.Errorf("Succeed() did not record session/error correctly: session=%v err=%v", op.Session, op.Err)
	}

	if err := op.Fail(nil, errors.New("late")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fail() after success error = %v, want ErrInvalidTransition", err)
	}

	if err := op.MarkDelivered(); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	if err := op.MarkDelivered(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second MarkDelivered() error = %v, want ErrInvalidTransition", err)
	}

	if op.State() != OperationCompletionDelivered {
		t.Errorf("final state = %v, want %v", op.State(), OperationCompletionDelivered)
	}
}

func TestAPIOperation_FailurePath(t *testing.T) {
	op := NewAPIOperation("v2/event")
	cause := NewTransportError("post", true, errors.New("deadline"))

	if err := op.MarkDelivered(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkDelivered() before completion error = %v, want ErrInvalidTransition", err)
	}

	_ = op.MarkDispatched()
	if err := op.Fail(nil, cause); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if op.Err != cause || op.Session != nil {
		t.Errorf("Fail() recorded err=%v session=%v", op.Err, op.Session)
	}
	if op.FinishedAt.IsZero() {
		t.Error("Fail() did not set FinishedAt")
	}
}

func TestOperationState_String(t *testing.T) {
	tests := []struct {
		state OperationState
		want  string
	}{
		{OperationCreated, "created"},
		{OperationDispatched, "dispatched"},
		{OperationSucceeded, "succeeded"},
		{OperationFailed, "failed"},
		{OperationCompletionDelivered, "completion_delivered"},
		{OperationState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("OperationState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewSessionFromPayload(t *testing.T) {
	session := NewSessionFromPayload(map[string]any{
		"session_id":            "123",
		"identity_id":           "456",
		"device_fingerprint_id": "789",
		"link":                  "https://example.app.link/abc",
		"data":                  `{"+clicked_branch_link":true,"campaign":"spring"}`,
	})

	if session.SessionID != "123" || session.IdentityID != "456" || session.DeviceFingerprintID != "789" {
		t.Errorf("ids not lifted: %+v", session)
	}
	if session.Data["campaign"] != "spring" {
		t.Errorf("string-encoded data not decoded: %v", session.Data)
	}
	if !session.HasIdentity() {
		t.Error("HasIdentity() = false, want true")
	}

	empty := NewSessionFromPayload(map[string]any{"version": 2})
	if empty.HasIdentity() {
		t.Error("HasIdentity() = true for a payload without ids")
	}
}
