//go:build nolog

package build

// LoggingType is a log type that writes no logs.
const LoggingType = LogTypeNone
