package simulator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Task states reported by waitOnTask.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskCancelled = "cancelled"
	TaskFailed    = "failed"
)

// waitSlice is how long a single waitOnTask call may block server side.
const waitSlice = time.Second

type taskStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// taskHandle tracks a simulator-side motion task.
type taskHandle struct {
	client    *Client
	id        string
	cancelled atomic.Bool
}

func (h *taskHandle) ID() string { return h.id }

func (h *taskHandle) Cancel(ctx context.Context) error {
	if !h.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	params := struct {
		TaskID string `json:"taskId"`
	}{h.id}
	return h.client.call(ctx, "cancelTask", params, nil)
}

func (h *taskHandle) Wait(ctx context.Context) error {
	params := struct {
		TaskID    string `json:"taskId"`
		TimeoutMs int64  `json:"timeoutMs"`
	}{h.id, waitSlice.Milliseconds()}

	for {
		var st taskStatus
		if err := h.client.callWithTimeout(ctx, waitSlice+h.client.cfg.CallTimeout, "waitOnTask", params, &st); err != nil {
			return err
		}
		switch st.Status {
		case TaskCompleted:
			return nil
		case TaskCancelled:
			return ErrTaskCancelled
		case TaskFailed:
			return &Error{Code: ErrInternal, Method: "waitOnTask", Original: fmt.Errorf("task %s failed: %s", h.id, st.Message)}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
