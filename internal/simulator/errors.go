package simulator

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized simulator errors.
var (
	ErrInvalidArgument = errors.New("INVALID_ARGUMENT")
	ErrBusy            = errors.New("BUSY")
	ErrUnavailable     = errors.New("UNAVAILABLE")
	ErrInternal        = errors.New("INTERNAL")

	// ErrTaskCancelled is returned by Handle.Wait when the motion was
	// superseded or aborted.
	ErrTaskCancelled = errors.New("TASK_CANCELLED")
)

// ErrorTokens maps message tokens reported by the simulator to
// normalized codes. Tokens are matched case-insensitively in the order
// InvalidArgument, Busy, Unavailable; anything else is INTERNAL.
type ErrorTokens struct {
	InvalidArgument []string
	Busy            []string
	Unavailable     []string
}

// DefaultErrorTokens is the table used by the JSON-RPC client.
var DefaultErrorTokens = ErrorTokens{
	InvalidArgument: []string{
		"INVALID_ARGUMENT",
		"INVALID_PARAMS",
		"UNKNOWN_VEHICLE",
		"UNKNOWN_SENSOR",
		"OUT_OF_RANGE",
	},
	Busy: []string{
		"BUSY",
		"TASK_QUEUE_FULL",
		"RATE_LIMITED",
	},
	Unavailable: []string{
		"UNAVAILABLE",
		"OFFLINE",
		"NOT_CONNECTED",
		"API_CONTROL_DISABLED",
		"RESETTING",
	},
}

// Error wraps a simulator failure with its normalized code.
type Error struct {
	Code     error
	Method   string
	Original error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v (simulator: %v)", e.Method, e.Code, e.Original)
}

// Unwrap exposes both the normalized code and the original error to
// errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Code, e.Original}
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC 2.0 reserved codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NormalizeError maps err to a normalized *Error using DefaultErrorTokens.
func NormalizeError(method string, err error) error {
	return NormalizeErrorWithTokens(method, err, DefaultErrorTokens)
}

// NormalizeErrorWithTokens maps err using the given token table.
func NormalizeErrorWithTokens(method string, err error, tokens ErrorTokens) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	return &Error{Code: codeFor(err, tokens), Method: method, Original: err}
}

func codeFor(err error, tokens ErrorTokens) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case CodeInvalidParams:
			return ErrInvalidArgument
		case CodeMethodNotFound, CodeParseError, CodeInvalidRequest:
			return ErrInternal
		}
	}

	msg := strings.ToUpper(err.Error())
	for _, token := range tokens.InvalidArgument {
		if strings.Contains(msg, token) {
			return ErrInvalidArgument
		}
	}
	for _, token := range tokens.Busy {
		if strings.Contains(msg, token) {
			return ErrBusy
		}
	}
	for _, token := range tokens.Unavailable {
		if strings.Contains(msg, token) {
			return ErrUnavailable
		}
	}
	return ErrInternal
}
