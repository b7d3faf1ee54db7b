// Package metrics defines the fire-and-forget observability sink the agents
// report to. Failures are logged and never reach the caller.
package metrics

import (
	"time"

	"github.com/kilianp07/transitsim/core/factory"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/model"
)

// Kind names a metric record.
type Kind string

const (
	KindNegotiationOK   Kind = "NEGOTIATION_OK"
	KindNegotiationFail Kind = "NEGOTIATION_FAIL"
	KindAwardRefused    Kind = "AWARD_REFUSED"
	KindBreakdown       Kind = "BREAKDOWN"
	KindRepaired        Kind = "REPAIRED"
	KindRefueled        Kind = "REFUELED"
	KindDropoff         Kind = "DROPOFF"
)

// Event is one (kind, source, target, value, extra) record.
type Event struct {
	Kind   Kind
	Source string
	Target string
	Value  float64
	Extra  string
	// Time is the simulated instant of the event. Emitters stamp it from
	// their clock; Emit falls back to wall time only when it is unset.
	Time time.Time
}

// Sink records metric events.
type Sink interface {
	Record(ev Event) error
}

// VehicleStatus is the latest reported state of a vehicle.
type VehicleStatus struct {
	VehicleID string
	Location  string
	State     model.State
	Load      int
	Fuel      float64
	Time      time.Time
}

// VehicleStatusRecorder is implemented by sinks that track per-vehicle state.
type VehicleStatusRecorder interface {
	RecordVehicleStatus(st VehicleStatus) error
}

// Config defines settings for metric sinks.
type Config struct {
	Sinks          []factory.ModuleConfig `json:"sinks"`
	PrometheusAddr string                 `json:"prometheus_addr"`
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(Event) error                      { return nil }
func (NopSink) RecordVehicleStatus(VehicleStatus) error { return nil }

// Emit stamps ev and records it, logging instead of returning failures.
func Emit(s Sink, log logger.Logger, ev Event) {
	if s == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := s.Record(ev); err != nil && log != nil {
		log.Warnf("metric %s dropped: %v", ev.Kind, err)
	}
}

// EmitStatus forwards st to s when it records vehicle state.
func EmitStatus(s Sink, log logger.Logger, st VehicleStatus) {
	r, ok := s.(VehicleStatusRecorder)
	if !ok {
		return
	}
	if st.Time.IsZero() {
		st.Time = time.Now()
	}
	if err := r.RecordVehicleStatus(st); err != nil && log != nil {
		log.Warnf("vehicle status for %s dropped: %v", st.VehicleID, err)
	}
}
