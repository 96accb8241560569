package controller

import (
	"context"
	"fmt"

	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
)

// opticalRotation turns a body-aligned camera frame into the optical
// convention: x right, y down, z forward.
var opticalRotation = simulator.Quaternion{W: 0.5, X: -0.5, Y: 0.5, Z: -0.5}

// mountTransform places a sensor frame in the vehicle frame.
func (c *Controller) mountTransform(sensor config.SensorDescriptor, header telemetry.Header) telemetry.TransformStamped {
	mount := sensor.Mount
	if sensor.Kind() == config.KindCamera {
		mount.Orientation = opticalRotation.Mul(mount.Orientation).Normalize()
	}
	return telemetry.TransformStamped{
		Header:       header,
		ChildFrameID: sensor.FrameName,
		Transform:    mount,
	}
}

// publishStaticTransforms broadcasts every mount once unless mounts
// travel with each sensor message.
func (c *Controller) publishStaticTransforms() {
	if c.cfg.Vehicle.PublishSensorTransforms {
		return
	}
	header := telemetry.Header{Stamp: c.clock.Now(), FrameID: c.cfg.Vehicle.Name}
	for _, sensor := range c.cfg.SensorDescriptors {
		c.hub.Publish(telemetry.TopicTFStatic, c.mountTransform(sensor, header))
	}
}

// pollSensor reads one sensor and publishes the sample.
func (c *Controller) pollSensor(ctx context.Context, sensor config.SensorDescriptor) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Simulator.CallTimeout)
	defer cancel()

	reading := telemetry.SensorReading{
		Sensor: sensor.Name,
		Kind:   string(sensor.Kind()),
	}
	var simNanos uint64

	switch spec := sensor.Spec.(type) {
	case config.CameraSpec:
		images, err := c.session.GetImages(callCtx, []simulator.ImageRequest{{
			CameraName:    sensor.Name,
			ImageType:     spec.ImageType,
			PixelsAsFloat: spec.PixelsAsFloat,
		}})
		if err != nil {
			return err
		}
		if len(images) == 0 {
			return fmt.Errorf("camera %q returned no image", sensor.Name)
		}
		reading.Image = &images[0]
		simNanos = images[0].TimestampNanos
	case config.LidarSpec:
		scan, err := c.session.GetLidarData(callCtx, sensor.Name)
		if err != nil {
			return err
		}
		reading.Lidar = scan
		simNanos = scan.TimestampNanos
	case config.ImuSpec:
		sample, err := c.session.GetImuData(callCtx, sensor.Name)
		if err != nil {
			return err
		}
		reading.Imu = sample
		simNanos = sample.TimestampNanos
	default:
		return fmt.Errorf("sensor %q has unsupported kind %T", sensor.Name, sensor.Spec)
	}

	stamp := c.stamp(simNanos)
	reading.Header = telemetry.Header{Stamp: stamp, FrameID: sensor.FrameName}

	if c.cfg.Vehicle.PublishSensorTransforms {
		c.hub.PublishAt(telemetry.TopicTF, stamp, c.mountTransform(sensor,
			telemetry.Header{Stamp: stamp, FrameID: c.cfg.Vehicle.Name}))
	}
	c.hub.PublishAt(sensor.OutputTopic, stamp, reading)
	return c.pipeline.Apply(reading)
}

// cameraInfo fetches camera intrinsics for processor setup.
func (c *Controller) cameraInfo(ctx context.Context, camera string) (*simulator.CameraInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Simulator.CallTimeout)
	defer cancel()
	return c.session.GetCameraInfo(callCtx, camera)
}
