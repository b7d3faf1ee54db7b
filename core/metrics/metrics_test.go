package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transitsim/core/factory"
)

type recordSink struct {
	events   []Event
	statuses []VehicleStatus
	err      error
}

func (r *recordSink) Record(ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordSink) RecordVehicleStatus(st VehicleStatus) error {
	r.statuses = append(r.statuses, st)
	return r.err
}

type plainSink struct{ n int }

func (p *plainSink) Record(Event) error { p.n++; return nil }

type warnLog struct{ warns []string }

func (w *warnLog) Debugf(string, ...any)            {}
func (w *warnLog) Debugw(string, map[string]any)    {}
func (w *warnLog) Infof(string, ...any)             {}
func (w *warnLog) Infow(string, map[string]any)     {}
func (w *warnLog) Warnw(m string, _ map[string]any) { w.warns = append(w.warns, m) }
func (w *warnLog) Warnf(f string, a ...any)         { w.warns = append(w.warns, fmt.Sprintf(f, a...)) }
func (w *warnLog) Errorf(string, ...any)            {}

func TestEmitSwallowsErrors(t *testing.T) {
	s := &recordSink{err: errors.New("down")}
	l := &warnLog{}
	Emit(s, l, Event{Kind: KindBreakdown, Source: "bus_1", Target: "South"})
	require.Len(t, s.events, 1)
	assert.False(t, s.events[0].Time.IsZero())
	require.Len(t, l.warns, 1)
	assert.Contains(t, l.warns[0], "BREAKDOWN")

	Emit(nil, l, Event{Kind: KindBreakdown})
}

func TestMultiSinkFanOut(t *testing.T) {
	a := &recordSink{}
	b := &plainSink{}
	c := &recordSink{err: errors.New("boom")}
	m := NewMultiSink(a, b, c)

	err := m.Record(Event{Kind: KindDropoff})
	assert.Error(t, err)
	assert.Len(t, a.events, 1)
	assert.Equal(t, 1, b.n)

	EmitStatus(m, nil, VehicleStatus{VehicleID: "tram_1"})
	assert.Len(t, a.statuses, 1)
	assert.Len(t, c.statuses, 1)
}

func TestEmitStatusSkipsPlainSinks(t *testing.T) {
	b := &plainSink{}
	EmitStatus(b, nil, VehicleStatus{VehicleID: "bus_2"})
	assert.Equal(t, 0, b.n)
}

func TestNewSinkFromRegistry(t *testing.T) {
	name := "test-record"
	require.NoError(t, RegisterSink(name, func(map[string]any) (Sink, error) { return &recordSink{}, nil }))

	s, err := NewSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewSink([]factory.ModuleConfig{{Type: name}})
	require.NoError(t, err)
	assert.IsType(t, &recordSink{}, s)

	s, err = NewSink([]factory.ModuleConfig{{Type: name}, {Type: name}})
	require.NoError(t, err)
	assert.IsType(t, &MultiSink{}, s)

	_, err = NewSink([]factory.ModuleConfig{{Type: "missing"}, {Type: name}})
	assert.Error(t, err)
	assert.Contains(t, SinkTypes(), name)
}
