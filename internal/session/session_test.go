package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/simulator/fake"
)

func newSession(sim simulator.Simulator, logOut io.Writer) *Session {
	if logOut == nil {
		logOut = io.Discard
	}
	return New(sim, Options{
		Endpoint:      "http://sim/rpc",
		Vehicle:       "drone",
		HealthTimeout: 50 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(logOut, nil)),
	})
}

func TestConnectRetriesUntilHandshake(t *testing.T) {
	sim := fake.New()
	sim.SetConnectAfter(2)
	s := newSession(sim, nil)

	if err := s.Connect(context.Background(), 2*time.Second, 5*time.Millisecond); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := sim.CallCount("GetConnectionState"); got != 3 {
		t.Errorf("Expected handshake attempts 3, got %d", got)
	}
	if !s.Alive() || !s.EverConnected() {
		t.Error("session should be alive and marked connected")
	}
	if !s.Status().Connected {
		t.Error("status not updated")
	}
}

func TestConnectTimeout(t *testing.T) {
	sim := fake.New()
	sim.SetConnected(false)
	s := newSession(sim, nil)

	start := time.Now()
	err := s.Connect(context.Background(), 60*time.Millisecond, 10*time.Millisecond)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Expected Connect() error ErrConnectTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "60ms") {
		t.Errorf("error %q does not name the timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect took %v", elapsed)
	}
	if s.EverConnected() {
		t.Error("EverConnected after timeout")
	}
}

func TestConnectCancelled(t *testing.T) {
	sim := fake.New()
	sim.SetConnected(false)
	s := newSession(sim, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Connect(ctx, time.Second, 10*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected Connect() error context.Canceled, got %v", err)
	}
}

func TestCheckVersionCompatibility(t *testing.T) {
	tests := []struct {
		name                                 string
		server, client, minServer, minClient int
		want                                 []VersionKind
	}{
		{"compatible", 1, 1, 1, 1, nil},
		{"newer both", 3, 2, 1, 1, nil},
		{"client too old", 1, 1, 1, 2, []VersionKind{ClientTooOld}},
		{"server too old", 1, 1, 2, 1, []VersionKind{ServerTooOld}},
		{"both too old", 1, 1, 2, 3, []VersionKind{ClientTooOld, ServerTooOld}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := fake.New()
			sim.SetVersions(tt.server, tt.client, tt.minServer, tt.minClient)
			s := newSession(sim, nil)

			err := s.CheckVersionCompatibility(context.Background())
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("Expected error nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrVersionIncompatible) {
				t.Fatalf("Expected error ErrVersionIncompatible, got %v", err)
			}
			var kinds []VersionKind
			if joined, ok := err.(interface{ Unwrap() []error }); ok {
				for _, e := range joined.Unwrap() {
					var ve *VersionError
					if errors.As(e, &ve) {
						kinds = append(kinds, ve.Kind)
					}
				}
			}
			if len(kinds) != len(tt.want) {
				t.Fatalf("Expected kinds %v, got %v", tt.want, kinds)
			}
			for i := range kinds {
				if kinds[i] != tt.want[i] {
					t.Errorf("Expected kinds[%d] = %v, got %v", i, tt.want[i], kinds[i])
				}
			}
		})
	}
}

func TestVersionErrorMessage(t *testing.T) {
	err := &VersionError{Kind: ClientTooOld, Have: 1, Min: 3}
	if got := err.Error(); got != "client version is too old (is: 1, min: 3)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCheckVersionServerFetchFails(t *testing.T) {
	sim := fake.New()
	sim.SetError("GetServerVersion", simulator.ErrUnavailable)
	s := newSession(sim, nil)

	err := s.CheckVersionCompatibility(context.Background())
	if !errors.Is(err, simulator.ErrUnavailable) {
		t.Errorf("Expected error ErrUnavailable, got %v", err)
	}
}

func TestHealthLossLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	sim := fake.New()
	s := newSession(sim, &buf)
	if err := s.Connect(context.Background(), time.Second, 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if !s.IsHealthy(context.Background()) {
		t.Fatal("expected healthy")
	}

	sim.SetError("GetConnectionState", simulator.ErrUnavailable)
	for i := 0; i < 3; i++ {
		if s.IsHealthy(context.Background()) {
			t.Fatal("expected unhealthy")
		}
	}
	if s.Alive() {
		t.Error("Expected Alive() false after a failed health check")
	}
	if n := strings.Count(buf.String(), "simulator connection lost"); n != 1 {
		t.Errorf("Expected loss logged once, got %d", n)
	}
}

func TestShutdownHelpersSwallowErrors(t *testing.T) {
	var buf bytes.Buffer
	sim := fake.New()
	sim.SetError("Reset", simulator.ErrUnavailable)
	sim.SetError("EnableAPIControl", simulator.ErrUnavailable)
	s := newSession(sim, &buf)

	s.Reset(context.Background())
	s.SetAPIControl(context.Background(), false)

	if !strings.Contains(buf.String(), "simulator reset failed") {
		t.Error("reset failure not logged")
	}
	if !strings.Contains(buf.String(), "failed to set api control") {
		t.Error("api control failure not logged")
	}
}

func TestSimTimeAndForwarding(t *testing.T) {
	sim := fake.New()
	sim.SetVehicleState(simulator.VehicleState{Pose: simulator.IdentityPose(), TimestampNanos: 12345})
	s := newSession(sim, nil)

	ns, err := s.SimTime(context.Background())
	if err != nil || ns != 12345 {
		t.Fatalf("SimTime() = %d, %v", ns, err)
	}

	if _, err := s.RotateToYaw(context.Background(), 90, 3600, 5); err != nil {
		t.Fatal(err)
	}
	calls := sim.Calls()
	last := calls[len(calls)-1]
	if last.Method != "RotateToYaw" || last.Args[len(last.Args)-1] != "drone" {
		t.Errorf("Expected last call RotateToYaw bound to drone, got %+v", last)
	}
}
