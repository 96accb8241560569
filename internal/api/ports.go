package api

import (
	"context"
	"net/http"

	"github.com/sim-control/simbridge/internal/command"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/scheduler"
	"github.com/sim-control/simbridge/internal/session"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
)

// StatusPort is the read-only controller view the API needs.
type StatusPort interface {
	State() lifecycle.State
	SessionStatus() session.Status
	Groups() []scheduler.GroupStatus
}

// CommandPort accepts pose commands.
type CommandPort interface {
	Submit(ctx context.Context, pose simulator.Pose) (command.MotionCommand, error)
	Last() (command.MotionCommand, bool)
	Stats() (issued, dropped uint64)
}

// TelemetryPort is the bus side of the API.
type TelemetryPort interface {
	ServeSSE(w http.ResponseWriter, r *http.Request) error
	Latest(topic string) (telemetry.Event, bool)
	Topics() []string
	Dropped() uint64
}

// Compile-time assertions for port conformance
var _ CommandPort = (*command.Arbiter)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
