// Package controller runs the bridge lifecycle.
//
// The Controller connects to the simulator, checks protocol versions,
// fixes the local frame from the vehicle's initial heading, and then
// runs the state-poll loop, the sensor poll groups and, in sim-time
// mode, the clock loop. While those run it flies the startup sequence
// (API control, arm, take off, hover at the origin) and enters Running.
//
// Health loss, a failed startup or a cancelled context move the
// machine to Shutdown. Shutdown cancels the motion in flight, joins
// every loop and hands control back to the simulator.
package controller
