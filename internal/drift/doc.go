// Package drift simulates odometry drift on top of ground-truth poses.
//
// A Model is ticked once per state poll with the ground-truth pose and
// returns the drifted pose that is published as odometry. Commands
// arrive in the drifted frame and are mapped back with Invert. Until
// Start is called Tick passes poses through unchanged.
package drift
