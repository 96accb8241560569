// Package clock provides the time source used by every periodic loop in
// the bridge.
//
// Production code injects Real(). Tests inject Fake() and move time
// forward explicitly with Advance, which makes poll cadences and the
// simulated-time republishing loop deterministic under test.
package clock
