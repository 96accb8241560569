// Package session owns the RPC session with the simulator.
//
// It connects with a bounded retry, checks protocol versions in both
// directions, tests liveness with a short per-call timeout, and
// funnels every data-plane call for the configured vehicle through one
// object that is safe for concurrent use. There is no reconnection: a
// lost session is reported once and stays lost.
package session
