package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sim-control/simbridge/internal/simulator"
)

// Options configures a Session.
type Options struct {
	// Endpoint is informational; the simulator value is already bound
	// to it.
	Endpoint string

	Vehicle       string
	HealthTimeout time.Duration
	Logger        *slog.Logger
}

// Status is a point-in-time view of the session.
type Status struct {
	Endpoint      string    `json:"endpoint"`
	Vehicle       string    `json:"vehicle"`
	Connected     bool      `json:"connected"`
	Alive         bool      `json:"alive"`
	ServerVersion int       `json:"serverVersion,omitempty"`
	ClientVersion int       `json:"clientVersion,omitempty"`
	LastSeen      time.Time `json:"lastSeen,omitempty"`
}

// Session wraps a simulator.Simulator for one vehicle.
type Session struct {
	sim     simulator.Simulator
	vehicle string
	opts    Options
	logger  *slog.Logger

	alive         atomic.Bool
	everConnected atomic.Bool

	mu     sync.RWMutex
	status Status
}

// New returns a disconnected session.
func New(sim simulator.Simulator, opts Options) *Session {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		sim:     sim,
		vehicle: opts.Vehicle,
		opts:    opts,
		logger:  opts.Logger,
		status: Status{
			Endpoint: opts.Endpoint,
			Vehicle:  opts.Vehicle,
		},
	}
}

// Vehicle returns the vehicle name the session is bound to.
func (s *Session) Vehicle() string { return s.vehicle }

// Connect retries the handshake every retryInterval until it succeeds
// or timeout elapses. The returned error wraps ErrConnectTimeout.
func (s *Session) Connect(ctx context.Context, timeout, retryInterval time.Duration) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		connected, err := s.sim.GetConnectionState(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if !connected {
			return struct{}{}, errors.New("handshake not acknowledged")
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(retryInterval)),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("simulator not reachable, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w after %v (%d attempts): %v", ErrConnectTimeout, timeout, attempts, err)
	}

	s.alive.Store(true)
	s.everConnected.Store(true)
	s.mu.Lock()
	s.status.Connected = true
	s.status.LastSeen = time.Now()
	s.mu.Unlock()

	s.logger.Info("connected to simulator", "endpoint", s.opts.Endpoint, "attempts", attempts)
	return nil
}

// CheckVersionCompatibility compares versions in both directions. When
// both sides are too old the two *VersionError values are joined.
func (s *Session) CheckVersionCompatibility(ctx context.Context) error {
	serverVer, err := s.sim.GetServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get server version: %w", err)
	}
	clientVer, err := s.sim.GetClientVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get client version: %w", err)
	}
	minServer, err := s.sim.GetMinRequiredServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get min required server version: %w", err)
	}
	minClient, err := s.sim.GetMinRequiredClientVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get min required client version: %w", err)
	}

	s.mu.Lock()
	s.status.ServerVersion = serverVer
	s.status.ClientVersion = clientVer
	s.mu.Unlock()

	var errs []error
	if clientVer < minClient {
		errs = append(errs, &VersionError{Kind: ClientTooOld, Have: clientVer, Min: minClient})
	}
	if serverVer < minServer {
		errs = append(errs, &VersionError{Kind: ServerTooOld, Have: serverVer, Min: minServer})
	}
	return errors.Join(errs...)
}

// IsHealthy checks the simulator with the health timeout and caches
// the result. The first transition from alive to not alive is logged.
func (s *Session) IsHealthy(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, s.opts.HealthTimeout)
	defer cancel()

	connected, err := s.sim.GetConnectionState(checkCtx)
	ok := err == nil && connected

	was := s.alive.Swap(ok)
	s.mu.Lock()
	s.status.Alive = ok
	if ok {
		s.status.LastSeen = time.Now()
	}
	s.mu.Unlock()

	if was && !ok {
		s.logger.Error("simulator connection lost", "endpoint", s.opts.Endpoint, "error", err)
	}
	return ok
}

// Alive returns the result of the latest health check without I/O.
func (s *Session) Alive() bool { return s.alive.Load() }

// EverConnected reports whether Connect ever succeeded.
func (s *Session) EverConnected() bool { return s.everConnected.Load() }

// Status returns a copy of the session status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Alive = s.alive.Load()
	return st
}

// Reset resets the simulation. Failures are logged only.
func (s *Session) Reset(ctx context.Context) {
	if err := s.sim.Reset(ctx); err != nil {
		s.logger.Warn("simulator reset failed", "error", err)
	}
}

// SetAPIControl toggles API control. Failures are logged only.
func (s *Session) SetAPIControl(ctx context.Context, enable bool) {
	if err := s.sim.EnableAPIControl(ctx, enable, s.vehicle); err != nil {
		s.logger.Warn("failed to set api control", "enable", enable, "error", err)
	}
}

// SimTime returns the simulator clock in nanoseconds, taken from the
// vehicle state timestamp.
func (s *Session) SimTime(ctx context.Context) (uint64, error) {
	st, err := s.sim.GetVehicleState(ctx, s.vehicle)
	if err != nil {
		return 0, err
	}
	return st.TimestampNanos, nil
}
