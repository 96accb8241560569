package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sim-control/simbridge/internal/auth"
	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/simulator"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Outcome codes written to the trail.
const (
	CodeSuccess         = "SUCCESS"
	CodeDropped         = "DROPPED"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeBusy            = "BUSY"
	CodeUnavailable     = "UNAVAILABLE"
	CodeCancelled       = "CANCELLED"
	CodeError           = "ERROR"
)

// FileName is the audit file inside the audit directory.
const FileName = "audit.jsonl"

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	Vehicle   string                 `json:"vehicle"`
	Action    string                 `json:"action"`
	CommandID string                 `json:"commandId,omitempty"`
	Params    map[string]interface{} `json:"params"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	LatencyMs int64                  `json:"latencyMs"`
}

// Logger appends audit entries.
type Logger struct {
	mu       sync.Mutex
	filePath string
	w        io.WriteCloser
	now      func() time.Time
}

// NewLogger opens the audit file under cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)
	return &Logger{
		filePath: filePath,
		w: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		},
		now: time.Now,
	}, nil
}

// NewWriterLogger writes entries to w.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{w: w, now: time.Now}
}

// LogAction records an action without parameters.
func (l *Logger) LogAction(ctx context.Context, action, vehicle, result string, latency time.Duration) {
	l.write(Entry{
		User:      auth.SubjectFromContext(ctx),
		Vehicle:   vehicle,
		Action:    action,
		Params:    map[string]interface{}{},
		Outcome:   result,
		Code:      result,
		LatencyMs: latency.Milliseconds(),
	})
}

// LogCommand records a motion command and its result.
func (l *Logger) LogCommand(ctx context.Context, action, vehicle, commandID string, params map[string]interface{}, outcome string, err error, latency time.Duration) {
	if params == nil {
		params = map[string]interface{}{}
	}
	l.write(Entry{
		User:      auth.SubjectFromContext(ctx),
		Vehicle:   vehicle,
		Action:    action,
		CommandID: commandID,
		Params:    params,
		Outcome:   outcome,
		Code:      CodeFromError(err),
		LatencyMs: latency.Milliseconds(),
	})
}

// CodeFromError maps a simulator error to an audit code.
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, simulator.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, simulator.ErrBusy):
		return CodeBusy
	case errors.Is(err, simulator.ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, simulator.ErrTaskCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeError
	}
}

func (l *Logger) write(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	entry.Timestamp = l.now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// FilePath returns the audit file path, empty for writer loggers.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
