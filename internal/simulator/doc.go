// Package simulator defines the contract the bridge needs from a remote
// vehicle simulator and ships a JSON-RPC 2.0 client for it.
//
// Every simulator error crossing this boundary is normalized to one of
// ErrInvalidArgument, ErrBusy, ErrUnavailable or ErrInternal, with the
// original error kept for diagnostics.
package simulator
