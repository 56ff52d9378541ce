// Package metrics exposes Prometheus metrics of the supervision loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "browserguard"

// Metrics are the collectors updated by the guard.
type Metrics struct {
	Ticks           prometheus.Counter
	TabsOpened      prometheus.Counter
	WindowDecisions *prometheus.CounterVec
	CommandFailures *prometheus.CounterVec
	Recoveries      prometheus.Counter
	LaunchAttempts  prometheus.Counter
	BrowserUp       prometheus.Gauge
}

// Register creates the guard metrics and registers them with reg. With a
// nil reg the metrics are created but not registered anywhere.
func Register(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of monitoring ticks run.",
		}),
		TabsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabs_opened_total",
			Help:      "Number of tabs opened because none was left.",
		}),
		WindowDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_decisions_total",
			Help:      "Window state decisions taken, by decision.",
		}, []string{"decision"}),
		CommandFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Failed control and CDP operations, by kind.",
		}, []string{"kind"}),
		Recoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Number of browser teardowns and relaunches.",
		}),
		LaunchAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_attempts_total",
			Help:      "Number of browser launch attempts.",
		}),
		BrowserUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_up",
			Help:      "Whether a launched browser answers on its control endpoint.",
		}),
	}
}
