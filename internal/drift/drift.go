package drift

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/simulator"
)

// Model is the odometry drift contract.
type Model interface {
	// Tick records the ground-truth pose and returns the drifted pose.
	Tick(groundTruth simulator.Pose) simulator.Pose

	// Invert maps a pose in the drifted frame back to ground truth.
	Invert(drifted simulator.Pose) simulator.Pose

	// Start enables drift accumulation.
	Start()

	// GroundTruth returns the pose passed to the latest Tick.
	GroundTruth() simulator.Pose
}

// New builds the model named in cfg.
func New(cfg config.DriftConfig) (Model, error) {
	switch cfg.Model {
	case "identity", "":
		return NewIdentity(), nil
	case "random_walk":
		return NewRandomWalk(cfg.Seed, cfg.PositionNoise, cfg.YawNoise), nil
	default:
		return nil, fmt.Errorf("unknown drift model %q", cfg.Model)
	}
}

// offsetModel holds the state shared by every model: the last ground
// truth and the current drift offset T_drift, with
// drifted = T_drift ∘ groundTruth.
type offsetModel struct {
	mu          sync.Mutex
	started     bool
	groundTruth simulator.Pose
	offset      simulator.Pose
}

func newOffsetModel() offsetModel {
	return offsetModel{
		groundTruth: simulator.IdentityPose(),
		offset:      simulator.IdentityPose(),
	}
}

func (m *offsetModel) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

func (m *offsetModel) GroundTruth() simulator.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groundTruth
}

func (m *offsetModel) Invert(drifted simulator.Pose) simulator.Pose {
	m.mu.Lock()
	offset := m.offset
	m.mu.Unlock()
	return offset.Inverse().Compose(drifted)
}

// Identity never drifts.
type Identity struct {
	offsetModel
}

// Compile-time assertion that Identity implements Model
var _ Model = (*Identity)(nil)

// NewIdentity returns a pass-through model.
func NewIdentity() *Identity {
	return &Identity{offsetModel: newOffsetModel()}
}

func (m *Identity) Tick(groundTruth simulator.Pose) simulator.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groundTruth = groundTruth
	return groundTruth
}

// RandomWalk accumulates gaussian increments on position and yaw each
// tick after Start.
type RandomWalk struct {
	offsetModel

	rng           *rand.Rand
	positionNoise float64
	yawNoise      float64
	yaw           float64
}

// Compile-time assertion that RandomWalk implements Model
var _ Model = (*RandomWalk)(nil)

// NewRandomWalk returns a random-walk model. positionNoise (m) and
// yawNoise (rad) are per-tick standard deviations. A zero seed is
// replaced by the wall clock.
func NewRandomWalk(seed int64, positionNoise, yawNoise float64) *RandomWalk {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomWalk{
		offsetModel:   newOffsetModel(),
		rng:           rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)),
		positionNoise: positionNoise,
		yawNoise:      yawNoise,
	}
}

func (m *RandomWalk) Tick(groundTruth simulator.Pose) simulator.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.groundTruth = groundTruth
	if !m.started {
		return groundTruth
	}

	step := simulator.Vector3{
		X: m.rng.NormFloat64() * m.positionNoise,
		Y: m.rng.NormFloat64() * m.positionNoise,
		Z: m.rng.NormFloat64() * m.positionNoise,
	}
	m.yaw += m.rng.NormFloat64() * m.yawNoise
	m.offset = simulator.Pose{
		Position:    m.offset.Position.Add(step),
		Orientation: simulator.QuaternionFromYaw(m.yaw),
	}

	return m.offset.Compose(groundTruth)
}

// Offset returns the accumulated drift transform.
func (m *RandomWalk) Offset() simulator.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}
