package processing

import (
	"errors"
	"fmt"
	"math"

	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
)

// depthToPointcloud back-projects a float depth image through a pinhole
// model with square pixels and the principal point at the image centre.
type depthToPointcloud struct {
	name     string
	fovRad   float64
	maxDepth float64
}

func newDepthToPointcloud(name string, fovDeg, maxDepth float64) (*depthToPointcloud, error) {
	if fovDeg <= 0 || fovDeg >= 180 {
		return nil, fmt.Errorf("field of view %v deg out of (0, 180)", fovDeg)
	}
	return &depthToPointcloud{name: name, fovRad: fovDeg * math.Pi / 180, maxDepth: maxDepth}, nil
}

func (d *depthToPointcloud) Process(reading telemetry.SensorReading) (any, error) {
	img := reading.Image
	if img == nil {
		return nil, errors.New("reading has no image")
	}
	if img.Width <= 0 || img.Height <= 0 || len(img.DataFloat) != img.Width*img.Height {
		return nil, fmt.Errorf("depth image %dx%d carries %d floats", img.Width, img.Height, len(img.DataFloat))
	}

	// Perspective depth is the range along the pixel ray; planar depth
	// is already the optical-axis distance.
	perspective := img.ImageType == simulator.ImageDepthPerspective
	f := float64(img.Width) / (2 * math.Tan(d.fovRad/2))
	cx, cy := float64(img.Width)/2, float64(img.Height)/2

	points := make([]float32, 0, len(img.DataFloat)*3)
	for v := 0; v < img.Height; v++ {
		for u := 0; u < img.Width; u++ {
			depth := float64(img.DataFloat[v*img.Width+u])
			if depth <= 0 || math.IsNaN(depth) || math.IsInf(depth, 0) {
				continue
			}
			rx, ry := (float64(u)-cx)/f, (float64(v)-cy)/f
			z := depth
			if perspective {
				z = depth / math.Sqrt(1+rx*rx+ry*ry)
			}
			if d.maxDepth > 0 && z > d.maxDepth {
				continue
			}
			points = append(points, float32(rx*z), float32(ry*z), float32(z))
		}
	}

	return telemetry.PointCloud{
		Header: reading.Header,
		Source: d.name,
		Points: points,
	}, nil
}
