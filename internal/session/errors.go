package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout is returned when the handshake does not succeed
	// within the connect timeout.
	ErrConnectTimeout = errors.New("simulator connect timeout")

	// ErrVersionIncompatible matches every *VersionError.
	ErrVersionIncompatible = errors.New("incompatible simulator version")
)

// VersionKind says which side of the session is outdated.
type VersionKind int

const (
	ClientTooOld VersionKind = iota
	ServerTooOld
)

func (k VersionKind) String() string {
	if k == ClientTooOld {
		return "client"
	}
	return "server"
}

// VersionError reports one failed direction of the version check.
type VersionError struct {
	Kind VersionKind
	Have int
	Min  int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s version is too old (is: %d, min: %d)", e.Kind, e.Have, e.Min)
}

func (e *VersionError) Is(target error) bool {
	return target == ErrVersionIncompatible
}
