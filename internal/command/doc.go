// Package command turns pose setpoints into simulator motion calls.
//
// The Arbiter accepts poses in the drifted odometry frame, maps them
// back to ground truth and keeps at most one motion in flight: every
// new command cancels the previous one before it is issued. Commands
// that travel less than the configured minimum distance become a
// rotate-in-place, because the simulator's move primitive returns
// without turning at tiny displacements.
package command
