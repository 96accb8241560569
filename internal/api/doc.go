// Package api serves the bridge HTTP surface.
//
// Health is public. When authentication is enabled, state and group
// reads need the read scope, the SSE telemetry stream needs the
// telemetry scope and pose commands need the control scope. Every JSON
// reply uses the same envelope: result, data or code/message, and a
// correlation id.
package api
