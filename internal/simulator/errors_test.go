package simulator

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid params code", &RPCError{Code: CodeInvalidParams, Message: "bad"}, ErrInvalidArgument},
		{"method not found", &RPCError{Code: CodeMethodNotFound, Message: "Method not found"}, ErrInternal},
		{"unknown vehicle token", &RPCError{Code: -32000, Message: "UNKNOWN_VEHICLE: drone9"}, ErrInvalidArgument},
		{"busy token", errors.New("task_queue_full"), ErrBusy},
		{"offline token", &RPCError{Code: -32000, Message: "OFFLINE"}, ErrUnavailable},
		{"api control token", errors.New("API_CONTROL_DISABLED"), ErrUnavailable},
		{"unknown token", errors.New("something odd"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError("m", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Expected NormalizeError(%v) = %v, got %v", tt.err, tt.want, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("original error not preserved in %v", got)
			}
		})
	}
}

func TestNormalizeErrorNil(t *testing.T) {
	if err := NormalizeError("m", nil); err != nil {
		t.Errorf("NormalizeError(nil) = %v", err)
	}
}

func TestNormalizeErrorKeepsExisting(t *testing.T) {
	orig := &Error{Code: ErrBusy, Method: "x", Original: context.DeadlineExceeded}
	got := NormalizeError("y", orig)
	if got != error(orig) {
		t.Errorf("already-normalized error was rewrapped: %v", got)
	}
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Error("errors.Is should reach the original error")
	}
}
