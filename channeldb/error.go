package channeldb

import "errors"

var (
	// ErrNoMonitor is returned when a monitor is requested for a channel
	// that was never registered in the store.
	ErrNoMonitor = errors.New("no monitor found for channel")

	// ErrMonitorExists is returned when a monitor is created twice with
	// differing channel parameters.
	ErrMonitorExists = errors.New("monitor already exists with different " +
		"channel parameters")

	// ErrDBReversion is returned when detecting an attempt to revert to a
	// prior database version.
	ErrDBReversion = errors.New("channel db cannot revert to prior version")
)
