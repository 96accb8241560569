// Package mocksim is a stand-in simulator process for integration runs.
//
// It answers the JSON-RPC methods the bridge client speaks on /rpc,
// flies a single vehicle with a point-mass kinematic model, and exposes
// a maintenance TCP port for fault injection (mode changes, collisions).
// All vehicle mutations go through one FIFO worker, so request order is
// the order in which state changes.
package mocksim
