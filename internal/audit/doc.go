// Package audit writes the command audit trail.
//
// Every pose command the bridge accepts, drops or fails is appended as
// one JSON object per line to audit.jsonl under the configured
// directory. The file is rotated by size.
package audit
