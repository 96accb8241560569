package controller

import "errors"

// Fatal conditions that end a run.
var (
	ErrHealthLost = errors.New("simulator health check failed")
	ErrFrameInit  = errors.New("frame initialization failed")
	ErrStartup    = errors.New("startup sequence failed")
)
