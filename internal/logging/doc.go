// Package logging builds the process logger.
//
// Records go to stderr and, when a file is configured, to a size-rotated
// file as well. The handler format (text or json) and level come from
// config.LoggingConfig.
package logging
