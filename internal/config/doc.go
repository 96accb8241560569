// Package config loads and validates the bridge configuration.
//
// Values come from four layers, later layers winning: compiled-in
// defaults (Defaults), a YAML file, SIMBRIDGE_* environment variables,
// and finally normalization, where out-of-range global parameters are
// replaced by their defaults with a warning. Structural errors are
// returned to the caller.
//
// The sensors list is turned into an explicit, validated slice of
// SensorDescriptor values. Malformed entries are skipped with a warning
// and never abort loading.
package config
