package mocksim

import (
	"math"

	"github.com/sim-control/simbridge/internal/simulator"
)

const standardGravity = 9.80665

// Synthetic camera resolution.
const (
	imageWidth  = 8
	imageHeight = 6
)

// cameraFOVDeg is the horizontal field of view of every camera.
const cameraFOVDeg = 90.0

// lidarBeams and lidarRange shape the synthetic scan.
const (
	lidarBeams = 16
	lidarRange = 10.0
)

// renderImage produces a gradient frame for req. Float requests get one
// depth value per pixel; the rest get packed RGB bytes.
func renderImage(req simulator.ImageRequest, pose simulator.Pose, stamp uint64) simulator.Image {
	img := simulator.Image{
		CameraName:     req.CameraName,
		ImageType:      req.ImageType,
		Width:          imageWidth,
		Height:         imageHeight,
		Pose:           pose,
		TimestampNanos: stamp,
	}
	if req.PixelsAsFloat {
		img.DataFloat = make([]float32, imageWidth*imageHeight)
		for i := range img.DataFloat {
			img.DataFloat[i] = float32(1 + i/imageWidth)
		}
		return img
	}
	img.Data = make([]byte, imageWidth*imageHeight*3)
	for i := range img.Data {
		img.Data[i] = byte(i * 255 / len(img.Data))
	}
	return img
}

// lidarRing returns a flat ring of points at lidarRange in the sensor
// frame.
func lidarRing() []float32 {
	points := make([]float32, 0, lidarBeams*3)
	for i := 0; i < lidarBeams; i++ {
		a := 2 * math.Pi * float64(i) / lidarBeams
		points = append(points, float32(lidarRange*math.Cos(a)), float32(lidarRange*math.Sin(a)), 0)
	}
	return points
}
