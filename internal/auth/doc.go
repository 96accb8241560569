// Package auth verifies JWT bearer tokens for the bridge API.
//
// Tokens are HS256 (shared secret) or RS256 (PEM public key). A valid
// token carries a subject, at least one known role and at least one
// known scope. Reading state needs "read", streaming telemetry needs
// "telemetry", and sending pose commands needs "control".
package auth
