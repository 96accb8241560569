package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// rpcStub answers JSON-RPC calls from a method table.
type rpcStub struct {
	mu      sync.Mutex
	calls   []string
	methods map[string]func(params json.RawMessage) (any, *RPCError)
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		ID     int64           `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.calls = append(s.calls, req.Method)
	fn, ok := s.methods[req.Method]
	s.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = &RPCError{Code: CodeMethodNotFound, Message: "Method not found"}
	} else if result, rpcErr := fn(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *rpcStub) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

func newStubClient(t *testing.T, stub *rpcStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{Endpoint: srv.URL, CallTimeout: time.Second})
}

func TestClientPingAndVersions(t *testing.T) {
	stub := &rpcStub{methods: map[string]func(json.RawMessage) (any, *RPCError){
		"ping":                        func(json.RawMessage) (any, *RPCError) { return true, nil },
		"getServerVersion":            func(json.RawMessage) (any, *RPCError) { return 3, nil },
		"getMinRequiredClientVersion": func(json.RawMessage) (any, *RPCError) { return 1, nil },
	}}
	c := newStubClient(t, stub)
	ctx := context.Background()

	ok, err := c.GetConnectionState(ctx)
	if err != nil || !ok {
		t.Fatalf("GetConnectionState = %v, %v", ok, err)
	}
	if v, _ := c.GetServerVersion(ctx); v != 3 {
		t.Errorf("Expected GetServerVersion 3, got %d", v)
	}
	if v, _ := c.GetMinRequiredClientVersion(ctx); v != 1 {
		t.Errorf("Expected GetMinRequiredClientVersion 1, got %d", v)
	}
	if v, _ := c.GetClientVersion(ctx); v != ClientVersion {
		t.Errorf("Expected client version %d, got %d", ClientVersion, v)
	}
}

func TestClientNormalizesRPCErrors(t *testing.T) {
	stub := &rpcStub{methods: map[string]func(json.RawMessage) (any, *RPCError){
		"getMultirotorState": func(json.RawMessage) (any, *RPCError) {
			return nil, &RPCError{Code: -32000, Message: "UNKNOWN_VEHICLE"}
		},
	}}
	c := newStubClient(t, stub)

	_, err := c.GetVehicleState(context.Background(), "ghost")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Expected err ErrInvalidArgument, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Message != "UNKNOWN_VEHICLE" {
		t.Errorf("RPCError not preserved: %v", err)
	}
}

func TestClientTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{Endpoint: url, CallTimeout: 200 * time.Millisecond})
	_, err := c.GetConnectionState(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected err ErrUnavailable, got %v", err)
	}
}

func TestTaskHandleWaitAndCancel(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	stub := &rpcStub{methods: map[string]func(json.RawMessage) (any, *RPCError){
		"moveToPosition": func(json.RawMessage) (any, *RPCError) {
			return map[string]string{"taskId": "t-1"}, nil
		},
		"waitOnTask": func(json.RawMessage) (any, *RPCError) {
			mu.Lock()
			defer mu.Unlock()
			polls++
			if polls < 3 {
				return taskStatus{Status: TaskRunning}, nil
			}
			return taskStatus{Status: TaskCompleted}, nil
		},
		"cancelTask": func(json.RawMessage) (any, *RPCError) { return true, nil },
	}}
	c := newStubClient(t, stub)
	ctx := context.Background()

	h, err := c.MoveToPosition(ctx, Vector3{1, 2, 3}, 5, 3600, YawMode{YawOrRateDeg: 90}, "drone")
	if err != nil {
		t.Fatalf("MoveToPosition: %v", err)
	}
	if h.ID() != "t-1" {
		t.Errorf("Expected ID t-1, got %q", h.ID())
	}
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := h.Cancel(ctx); err != nil {
			t.Fatalf("Cancel #%d: %v", i, err)
		}
	}
	if n := stub.count("cancelTask"); n != 1 {
		t.Errorf("Expected cancelTask called once, got %d", n)
	}
}

func TestTaskHandleWaitCancelled(t *testing.T) {
	stub := &rpcStub{methods: map[string]func(json.RawMessage) (any, *RPCError){
		"rotateToYaw": func(json.RawMessage) (any, *RPCError) {
			return map[string]string{"taskId": "t-2"}, nil
		},
		"waitOnTask": func(json.RawMessage) (any, *RPCError) {
			return taskStatus{Status: TaskCancelled}, nil
		},
	}}
	c := newStubClient(t, stub)

	h, err := c.RotateToYaw(context.Background(), 45, 3600, 5, "drone")
	if err != nil {
		t.Fatalf("RotateToYaw: %v", err)
	}
	if err := h.Wait(context.Background()); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("Expected Wait ErrTaskCancelled, got %v", err)
	}
}
