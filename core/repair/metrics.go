package repair

import "github.com/prometheus/client_golang/prometheus"

var (
	repairsInService prometheus.Gauge
	repairsTotal     *prometheus.CounterVec
	repairWait       prometheus.Histogram
)

func newCollectors() (prometheus.Gauge, *prometheus.CounterVec, prometheus.Histogram) {
	busy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transit_repairs_in_service",
		Help: "Repair slots currently held",
	})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_repairs_total",
		Help: "Completed repairs by issue",
	}, []string{"issue"})
	wait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_repair_wait_seconds",
		Help:    "Wall time a breakdown waited for a free slot",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	return busy, total, wait
}

func init() {
	repairsInService, repairsTotal, repairWait = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers repair metrics on reg, or the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(repairsInService, repairsTotal, repairWait)
}

// ResetMetrics recreates the collectors for tests.
func ResetMetrics(reg prometheus.Registerer) {
	repairsInService, repairsTotal, repairWait = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
