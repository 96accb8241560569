// Package lifecycle holds the session state of the bridge and the table
// of legal transitions between states.
//
// The controller owns the only Machine and is the only writer. Every
// other component receives the read-only Reader view.
package lifecycle
