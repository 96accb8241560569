// Package frames converts between the simulator world frame (NED, body
// FRD) and the bridge's local frame (ENU-style: x forward along the
// reference heading, y left, z up; body FLU).
//
// The reference heading is the vehicle yaw read once at startup,
// snapped to the nearest multiple of 45 degrees when it lies within 10
// degrees of one.
package frames
