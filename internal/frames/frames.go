package frames

import (
	"math"
	"sync"

	"github.com/sim-control/simbridge/internal/simulator"
)

const (
	snapAngle = math.Pi / 4
	snapRange = 10 * math.Pi / 180
)

// flip is a half turn about x. It maps NED to the up-facing frame and
// FRD body axes to FLU.
var flip = simulator.Quaternion{W: 0, X: 1, Y: 0, Z: 0}

// SnapYaw moves yaw (rad) onto the nearest multiple of 45 degrees when
// it lies within 10 degrees of it; otherwise yaw is returned unchanged.
func SnapYaw(yaw float64) float64 {
	diff := math.Remainder(yaw, snapAngle)
	if math.Abs(diff) < snapRange {
		return yaw - diff
	}
	return yaw
}

// Converter maps poses, vectors and orientations between frames. The
// zero value converts with a reference yaw of 0.
type Converter struct {
	mu        sync.RWMutex
	reference float64
	toLocal   simulator.Quaternion
	ready     bool
}

// NewConverter returns a converter for reference yaw 0.
func NewConverter() *Converter {
	c := &Converter{}
	c.InitFromReferenceYaw(0)
	return c
}

// InitFromReferenceYaw sets the reference heading (rad, simulator
// frame) after snapping and returns the heading actually used.
func (c *Converter) InitFromReferenceYaw(yaw float64) float64 {
	snapped := SnapYaw(yaw)
	q := flip.Mul(simulator.QuaternionFromYaw(-snapped)).Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reference = snapped
	c.toLocal = q
	c.ready = true
	return snapped
}

// ReferenceYaw returns the snapped reference heading.
func (c *Converter) ReferenceYaw() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reference
}

func (c *Converter) rotation() simulator.Quaternion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return flip
	}
	return c.toLocal
}

// VectorToLocal rotates a simulator-frame vector into the local frame.
func (c *Converter) VectorToLocal(v simulator.Vector3) simulator.Vector3 {
	return c.rotation().Rotate(v)
}

// VectorToRemote rotates a local-frame vector into the simulator frame.
func (c *Converter) VectorToRemote(v simulator.Vector3) simulator.Vector3 {
	return c.rotation().Conj().Rotate(v)
}

// OrientationToLocal converts a simulator body orientation.
func (c *Converter) OrientationToLocal(q simulator.Quaternion) simulator.Quaternion {
	r := c.rotation()
	return r.Mul(q).Mul(flip.Conj()).Normalize()
}

// OrientationToRemote converts a local body orientation.
func (c *Converter) OrientationToRemote(q simulator.Quaternion) simulator.Quaternion {
	r := c.rotation()
	return r.Conj().Mul(q).Mul(flip).Normalize()
}

// PoseToLocal converts a simulator pose.
func (c *Converter) PoseToLocal(p simulator.Pose) simulator.Pose {
	return simulator.Pose{
		Position:    c.VectorToLocal(p.Position),
		Orientation: c.OrientationToLocal(p.Orientation),
	}
}

// PoseToRemote converts a local pose.
func (c *Converter) PoseToRemote(p simulator.Pose) simulator.Pose {
	return simulator.Pose{
		Position:    c.VectorToRemote(p.Position),
		Orientation: c.OrientationToRemote(p.Orientation),
	}
}

// TwistToLocal converts both velocity vectors.
func (c *Converter) TwistToLocal(t simulator.Twist) simulator.Twist {
	return simulator.Twist{
		Linear:  c.VectorToLocal(t.Linear),
		Angular: c.VectorToLocal(t.Angular),
	}
}

// YawToRemoteDegrees returns the simulator-frame heading of a local
// orientation, in degrees, as motion commands expect it.
func (c *Converter) YawToRemoteDegrees(q simulator.Quaternion) float64 {
	return c.OrientationToRemote(q).Yaw() * 180 / math.Pi
}
