//go:build monitoring
// +build monitoring

package monitoring

import (
	"errors"
	"net/http"
	"sync"

	"github.com/lightningnetwork/chancore/lncfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chancore"

var (
	started sync.Once

	paymentCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Payments by status.",
	}, []string{"status"})

	forwardCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwards_settled_total",
		Help:      "HTLC forwards that were settled.",
	})

	forceCloseCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "force_closes_total",
		Help:      "Channels force closed by this node.",
	})

	stalledLinkCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stalled_links_total",
		Help:      "Links stalled by a monitor persistence failure.",
	})

	activeLinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_links",
		Help:      "Channels managed by the switch.",
	})

	openCircuits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_circuits",
		Help:      "HTLCs in flight through the switch.",
	})
)

func init() {
	prometheus.MustRegister(
		paymentCount, forwardCount, forceCloseCount, stalledLinkCount,
		activeLinks, openCircuits,
	)
}

// ExportPrometheusMetrics launches the Prometheus exporter on the configured
// address.
func ExportPrometheusMetrics(cfg lncfg.Prometheus) error {
	if !cfg.Enabled() {
		return errors.New("prometheus exporter disabled")
	}

	started.Do(func() {
		log.Infof("Prometheus exporter started on %v/metrics", cfg.Listen)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(cfg.Listen, mux)
			if err != nil {
				log.Errorf("Prometheus exporter stopped: %v", err)
			}
		}()
	})

	return nil
}

// IncrementPaymentCount increments a counter tracking the payments by
// status.
func IncrementPaymentCount(status PaymentStatus) {
	paymentCount.WithLabelValues(string(status)).Inc()
}

// IncrementForwardCount increments a counter tracking the settled forwards.
func IncrementForwardCount() {
	forwardCount.Inc()
}

// IncrementForceCloseCount increments a counter tracking force closes.
func IncrementForceCloseCount() {
	forceCloseCount.Inc()
}

// IncrementStalledLinkCount increments a counter tracking links stalled by a
// persistence failure.
func IncrementStalledLinkCount() {
	stalledLinkCount.Inc()
}

// SetActiveLinks sets the gauge of active links.
func SetActiveLinks(n int) {
	activeLinks.Set(float64(n))
}

// SetOpenCircuits sets the gauge of HTLCs in flight.
func SetOpenCircuits(n int) {
	openCircuits.Set(float64(n))
}
