package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/transitsim/core/metrics"
)

// PromSink records simulation events in Prometheus metrics.
type PromSink struct {
	events *prometheus.CounterVec
	values *prometheus.HistogramVec
	load   *prometheus.GaugeVec
	fuel   *prometheus.GaugeVec
}

// NewPromSink registers simulation metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by the api package.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_events_total",
		Help: "Simulation events by kind and source",
	}, []string{"kind", "source"}))
	if err != nil {
		return nil, err
	}
	values, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transit_event_value",
		Help:    "Value carried by simulation events (ETA, refuel amount, drop-off count)",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 50, 75, 100},
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	load, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transit_vehicle_load",
		Help: "Passengers aboard each vehicle",
	}, []string{"vehicle_id"}))
	if err != nil {
		return nil, err
	}
	fuel, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transit_vehicle_fuel",
		Help: "Fuel level of each vehicle",
	}, []string{"vehicle_id"}))
	if err != nil {
		return nil, err
	}
	return &PromSink{events: events, values: values, load: load, fuel: fuel}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Record increments the event counter and observes the event value.
func (s *PromSink) Record(ev coremetrics.Event) error {
	s.events.WithLabelValues(string(ev.Kind), ev.Source).Inc()
	if ev.Value != 0 {
		s.values.WithLabelValues(string(ev.Kind)).Observe(ev.Value)
	}
	return nil
}

// RecordVehicleStatus sets the per-vehicle gauges.
func (s *PromSink) RecordVehicleStatus(st coremetrics.VehicleStatus) error {
	s.load.WithLabelValues(st.VehicleID).Set(float64(st.Load))
	s.fuel.WithLabelValues(st.VehicleID).Set(st.Fuel)
	return nil
}
