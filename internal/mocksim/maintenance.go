package mocksim

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sim-control/simbridge/internal/simulator"
)

// MaintenanceRequest is a JSON-RPC request on the maintenance port.
// Parameters are positional strings.
type MaintenanceRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  []string        `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// MaintenanceServer handles fault-injection TCP connections. Each
// connection carries newline-delimited JSON-RPC requests.
type MaintenanceServer struct {
	world   *World
	logger  *slog.Logger
	port    int
	allowed []netip.Prefix

	mu          sync.Mutex
	listener    net.Listener
	connections map[net.Conn]struct{}
	closed      bool

	maxConnections    int
	connectionTimeout time.Duration
	wg                sync.WaitGroup
}

// NewMaintenanceServer creates a maintenance server. Invalid CIDRs are
// skipped with a warning; validateConfig rejects them earlier.
func NewMaintenanceServer(cfg *Config, world *World, logger *slog.Logger) *MaintenanceServer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "maintenance")

	allowed := make([]netip.Prefix, 0, len(cfg.Network.Maintenance.AllowedCIDRs))
	for _, cidr := range cfg.Network.Maintenance.AllowedCIDRs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			logger.Warn("invalid CIDR in config", "cidr", cidr, "error", err)
			continue
		}
		allowed = append(allowed, p.Masked())
	}

	return &MaintenanceServer{
		world:             world,
		logger:            logger,
		port:              cfg.Network.Maintenance.Port,
		allowed:           allowed,
		connections:       make(map[net.Conn]struct{}),
		maxConnections:    10,
		connectionTimeout: 30 * time.Second,
	}
}

// ListenAndServe listens on the configured port and serves until Close.
func (s *MaintenanceServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It returns nil after
// Close.
func (s *MaintenanceServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("maintenance server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("failed to accept connection", "error", err)
			continue
		}

		if !s.isAllowedConnection(conn) {
			s.logger.Warn("rejected connection, not in allowed CIDRs", "remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}
		if !s.track(conn) {
			s.logger.Warn("rejected connection, too many clients", "remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *MaintenanceServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.connections) >= s.maxConnections {
		return false
	}
	s.connections[conn] = struct{}{}
	return true
}

// handleConnection serves requests on one connection until EOF, an
// idle timeout or Close.
func (s *MaintenanceServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.connections, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	encoder := json.NewEncoder(conn)

	for {
		conn.SetDeadline(time.Now().Add(s.connectionTimeout))

		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return
		}

		var req MaintenanceRequest
		var resp *Response
		if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
			resp = errorResponse(nil, simulator.CodeParseError, "Parse error")
		} else if req.JSONRPC != "2.0" {
			resp = errorResponse(req.ID, simulator.CodeInvalidRequest, "Invalid Request")
		} else {
			resp = s.processMaintenanceRequest(&req)
			s.logger.Info("maintenance command processed", "method", req.Method, "client", conn.RemoteAddr().String())
		}

		if encErr := encoder.Encode(resp); encErr != nil {
			s.logger.Warn("failed to encode response", "error", encErr)
			return
		}
		if err != nil {
			return
		}
	}
}

// processMaintenanceRequest applies one fault-injection command.
func (s *MaintenanceServer) processMaintenanceRequest(req *MaintenanceRequest) *Response {
	ctx, cancel := context.WithTimeout(context.Background(), s.world.cfg.Timing.CommandTimeout)
	defer cancel()

	var (
		result any = true
		err    error
	)
	switch req.Method {
	case "set_mode":
		if len(req.Params) != 1 {
			err = invalidParams("set_mode takes one mode")
			break
		}
		err = s.world.SetMode(ctx, req.Params[0])
	case "collide":
		object := "obstacle"
		if len(req.Params) > 0 && req.Params[0] != "" {
			object = req.Params[0]
		}
		err = s.world.InjectCollision(ctx, object)
	case "clear_collision":
		err = s.world.ClearCollision(ctx)
	case "reset":
		err = s.world.Reset(ctx)
	case "status":
		result, err = s.world.Status(ctx)
	default:
		return errorResponse(req.ID, simulator.CodeMethodNotFound, "Method not found")
	}

	if err != nil {
		var rpcErr *simulator.RPCError
		if errors.As(err, &rpcErr) {
			return &Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
		}
		return errorResponse(req.ID, simulator.CodeInternalError, err.Error())
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

// isAllowedConnection checks if the connection is from an allowed CIDR
func (s *MaintenanceServer) isAllowedConnection(conn net.Conn) bool {
	addrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	addr := addrPort.Addr().Unmap()
	for _, p := range s.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Close stops accepting, closes open connections and waits for their
// handlers.
func (s *MaintenanceServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for conn := range s.connections {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}
