package controller

import (
	"context"
	"time"

	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/telemetry"
	"golang.org/x/time/rate"
)

// pollLoop is the main state loop. It returns ErrHealthLost when the
// simulator stops answering and nil on shutdown.
func (c *Controller) pollLoop(ctx context.Context) error {
	hz := c.cfg.Timing.StateRefreshRate
	if hz <= 0 {
		hz = config.Defaults().Timing.StateRefreshRate
	}
	period := time.Duration(float64(time.Second) / hz)
	ticker := c.clock.NewTicker(period)
	defer ticker.Stop()

	warn := rate.NewLimiter(rate.Every(c.warnInterval()), 1)
	c.logger.Debug("state poll loop started", "period", period)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if c.machine.Current() == lifecycle.Shutdown {
			return nil
		}
		if !c.session.IsHealthy(ctx) {
			if ctx.Err() != nil {
				return nil
			}
			return ErrHealthLost
		}
		if err := c.pollState(ctx); err != nil && warn.Allow() {
			c.logger.Warn("state poll failed", "error", err)
		}
	}
}

func (c *Controller) warnInterval() time.Duration {
	if d := c.cfg.Telemetry.PollWarnInterval; d > 0 {
		return d
	}
	return 5 * time.Second
}

// pollState reads the vehicle state once and publishes every derived
// message.
func (c *Controller) pollState(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Simulator.CallTimeout)
	defer cancel()

	state, err := c.session.GetVehicleState(callCtx)
	if err != nil {
		return err
	}

	stamp := c.stamp(state.TimestampNanos)
	vehicle := c.cfg.Vehicle.Name
	header := telemetry.Header{Stamp: stamp, FrameID: c.cfg.Simulator.FrameName}

	groundTruth := c.frames.PoseToLocal(state.Pose)
	twist := c.frames.TwistToLocal(state.Twist)
	drifted := c.drift.Tick(groundTruth)
	c.arbiter.UpdatePosition(groundTruth.Position)

	c.hub.PublishAt(telemetry.TopicTF, stamp, telemetry.TransformStamped{
		Header:       header,
		ChildFrameID: vehicle,
		Transform:    drifted,
	})
	c.hub.PublishAt(telemetry.OdometryTopic(vehicle), stamp, telemetry.Odometry{
		Header:       header,
		ChildFrameID: vehicle,
		Pose:         drifted,
		Twist:        twist,
	})
	c.hub.PublishAt(telemetry.GroundTruthOdometryTopic(vehicle), stamp, telemetry.Odometry{
		Header:       header,
		ChildFrameID: vehicle,
		Pose:         groundTruth,
		Twist:        twist,
	})
	c.hub.PublishAt(telemetry.GroundTruthPoseTopic(vehicle), stamp, telemetry.PoseStamped{
		Header: header,
		Pose:   groundTruth,
	})

	collision, err := c.session.GetCollisionInfo(callCtx)
	if err != nil {
		return err
	}
	if collision.HasCollided {
		c.logger.Warn("collision detected", "object", collision.ObjectName)
		c.hub.PublishAt(telemetry.CollisionTopic(vehicle), stamp, telemetry.Collision{
			Header:     header,
			Collided:   true,
			ObjectName: collision.ObjectName,
			Position:   c.frames.VectorToLocal(collision.Position),
		})
	}
	return nil
}

// stamp returns simulator time in sim-time mode when it is set, wall
// time otherwise.
func (c *Controller) stamp(simNanos uint64) time.Time {
	if c.cfg.Simulator.UseSimTime && simNanos > 0 {
		return time.Unix(0, int64(simNanos)).UTC()
	}
	return c.clock.Now()
}
