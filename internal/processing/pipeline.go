package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
)

// Processor turns one reading into one output message.
type Processor interface {
	Process(reading telemetry.SensorReading) (any, error)
}

// CameraInfoSource resolves camera intrinsics at setup.
type CameraInfoSource interface {
	GetCameraInfo(ctx context.Context, camera string) (*simulator.CameraInfo, error)
}

// CameraInfoFunc adapts a function to CameraInfoSource.
type CameraInfoFunc func(ctx context.Context, camera string) (*simulator.CameraInfo, error)

func (f CameraInfoFunc) GetCameraInfo(ctx context.Context, camera string) (*simulator.CameraInfo, error) {
	return f(ctx, camera)
}

// Publisher is the bus side outputs go to.
type Publisher interface {
	PublishAt(topic string, stamp time.Time, data any) telemetry.Event
}

// Compile-time assertion that the hub implements Publisher
var _ Publisher = (*telemetry.Hub)(nil)

type stage struct {
	name  string
	topic string
	proc  Processor
}

// Pipeline maps input sensors to their processors.
type Pipeline struct {
	bus    Publisher
	stages map[string][]stage
	logger *slog.Logger
}

// NewPipeline builds a processor for every descriptor. A processor
// whose setup fails is logged and skipped.
func NewPipeline(ctx context.Context, descs []config.ProcessorDescriptor, cameras CameraInfoSource, bus Publisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		bus:    bus,
		stages: make(map[string][]stage),
		logger: logger.With("component", "processing"),
	}
	for _, d := range descs {
		proc, err := build(ctx, d, cameras)
		if err != nil {
			p.logger.Warn("processor setup failed, processor will be ignored", "processor", d.Name, "error", err)
			continue
		}
		p.stages[d.Input] = append(p.stages[d.Input], stage{name: d.Name, topic: d.OutputTopic, proc: proc})
		p.logger.Info("processor ready", "processor", d.Name, "type", d.Spec.Kind(), "input", d.Input, "topic", d.OutputTopic)
	}
	return p
}

func build(ctx context.Context, d config.ProcessorDescriptor, cameras CameraInfoSource) (Processor, error) {
	switch spec := d.Spec.(type) {
	case config.ChangeFrameIDSpec:
		return changeFrameID{frameID: spec.FrameID}, nil
	case config.DepthToPointcloudSpec:
		if cameras == nil {
			return nil, errors.New("no camera info source")
		}
		info, err := cameras.GetCameraInfo(ctx, d.Input)
		if err != nil {
			return nil, fmt.Errorf("camera info for %q: %w", d.Input, err)
		}
		return newDepthToPointcloud(d.Name, info.FOVDeg, spec.MaxDepth)
	default:
		return nil, fmt.Errorf("unsupported processor %T", d.Spec)
	}
}

// Len reports how many processors are running.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, s := range p.stages {
		n += len(s)
	}
	return n
}

// Apply runs every processor bound to reading's sensor. A failing
// processor does not stop the others; all failures are returned
// joined.
func (p *Pipeline) Apply(reading telemetry.SensorReading) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.stages[reading.Sensor] {
		out, err := s.proc.Process(reading)
		if err != nil {
			errs = append(errs, fmt.Errorf("processor %s: %w", s.name, err))
			continue
		}
		p.bus.PublishAt(s.topic, reading.Header.Stamp, out)
	}
	return errors.Join(errs...)
}

// changeFrameID republishes the reading under another frame.
type changeFrameID struct {
	frameID string
}

func (c changeFrameID) Process(reading telemetry.SensorReading) (any, error) {
	reading.Header.FrameID = c.frameID
	return reading, nil
}
