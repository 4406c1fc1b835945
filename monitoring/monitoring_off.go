//go:build !monitoring
// +build !monitoring

package monitoring

import (
	"fmt"

	"github.com/lightningnetwork/chancore/lncfg"
)

// ExportPrometheusMetrics is required for chancore to compile so that
// Prometheus metric exporting can be hidden behind a build tag.
func ExportPrometheusMetrics(_ lncfg.Prometheus) error {
	return fmt.Errorf("chancore must be built with the monitoring tag to " +
		"enable exporting Prometheus metrics")
}

// IncrementPaymentCount increments a counter tracking the payments by
// status when monitoring is enabled. This method no-ops as monitoring is
// disabled.
func IncrementPaymentCount(_ PaymentStatus) {}

// IncrementForwardCount increments a counter tracking the settled forwards
// when monitoring is enabled. This method no-ops as monitoring is disabled.
func IncrementForwardCount() {}

// IncrementForceCloseCount increments a counter tracking force closes when
// monitoring is enabled. This method no-ops as monitoring is disabled.
func IncrementForceCloseCount() {}

// IncrementStalledLinkCount increments a counter tracking links stalled by a
// persistence failure when monitoring is enabled. This method no-ops as
// monitoring is disabled.
func IncrementStalledLinkCount() {}

// SetActiveLinks sets the gauge of active links when monitoring is enabled.
// This method no-ops as monitoring is disabled.
func SetActiveLinks(_ int) {}

// SetOpenCircuits sets the gauge of HTLCs in flight when monitoring is
// enabled. This method no-ops as monitoring is disabled.
func SetOpenCircuits(_ int) {}
