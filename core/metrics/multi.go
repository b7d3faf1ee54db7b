package metrics

import "errors"

// MultiSink fans records out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record forwards ev to every sink and joins their errors.
func (m *MultiSink) Record(ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordVehicleStatus forwards st to sinks that track vehicle state.
func (m *MultiSink) RecordVehicleStatus(st VehicleStatus) error {
	var errs []error
	for _, s := range m.sinks {
		if r, ok := s.(VehicleStatusRecorder); ok {
			if err := r.RecordVehicleStatus(st); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
