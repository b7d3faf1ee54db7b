package negotiation

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsTotal   *prometheus.CounterVec
	bidsPerSession  prometheus.Histogram
	winningETA      prometheus.Histogram
	sessionDuration prometheus.Histogram
)

func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, prometheus.Histogram, prometheus.Histogram) {
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_negotiations_total",
		Help: "Finished negotiation sessions by outcome",
	}, []string{"outcome"})
	bids := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_negotiation_bids",
		Help:    "Bids collected per session",
		Buckets: prometheus.LinearBuckets(0, 1, 8),
	})
	eta := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_negotiation_winning_eta",
		Help:    "ETA of the winning bid in time-cost units",
		Buckets: prometheus.LinearBuckets(0, 10, 10),
	})
	dur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_negotiation_duration_seconds",
		Help:    "Wall time from call for proposals to decision",
		Buckets: prometheus.DefBuckets,
	})
	return total, bids, eta, dur
}

func init() {
	sessionsTotal, bidsPerSession, winningETA, sessionDuration = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers negotiation metrics on reg, or the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(sessionsTotal, bidsPerSession, winningETA, sessionDuration)
}

// ResetMetrics recreates the collectors for tests.
func ResetMetrics(reg prometheus.Registerer) {
	sessionsTotal, bidsPerSession, winningETA, sessionDuration = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
