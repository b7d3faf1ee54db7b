package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transitsim/core/factory"
	coremetrics "github.com/kilianp07/transitsim/core/metrics"
)

func TestPromSinkCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Record(coremetrics.Event{Kind: coremetrics.KindBreakdown, Source: "bus_1"}))
	require.NoError(t, sink.Record(coremetrics.Event{Kind: coremetrics.KindBreakdown, Source: "bus_1"}))
	require.NoError(t, sink.Record(coremetrics.Event{Kind: coremetrics.KindRefueled, Source: "refuel", Value: 60}))
	require.NoError(t, sink.RecordVehicleStatus(coremetrics.VehicleStatus{VehicleID: "bus_1", Load: 3, Fuel: 42}))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues("BREAKDOWN", "bus_1")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.values))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.load.WithLabelValues("bus_1")))
	assert.Equal(t, 42.0, testutil.ToFloat64(sink.fuel.WithLabelValues("bus_1")))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	assert.Same(t, a.events, b.events)
}

func TestLogSinkWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(&buf)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, sink.Record(coremetrics.Event{
		Kind: coremetrics.KindDropoff, Source: "bus_1", Target: "North", Value: 2, Time: now,
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "metrics", line["component"])
	assert.Equal(t, "DROPOFF", line["kind"])
	assert.Equal(t, "North", line["target"])
	assert.Equal(t, 2.0, line["value"])
}

func TestBuiltinSinksRegistered(t *testing.T) {
	types := coremetrics.SinkTypes()
	for _, name := range []string{"nop", "log", "prometheus", "influx"} {
		assert.Contains(t, types, name)
	}

	s, err := coremetrics.NewSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "log", Conf: map[string]any{"path": "-"}}})
	require.NoError(t, err)
	assert.IsType(t, &coremetrics.MultiSink{}, s)
}

func TestRotatingLogSinkWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "metrics.jsonl")
	s, err := coremetrics.NewSink([]factory.ModuleConfig{{Type: "log", Conf: map[string]any{"path": path, "max_size_mb": 1}}})
	require.NoError(t, err)
	require.NoError(t, s.Record(coremetrics.Event{Kind: coremetrics.KindRefueled, Source: "refuel", Target: "bus_1", Value: 60}))
	s.(*LogSink).Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "REFUELED", line["kind"])
	assert.Equal(t, 60.0, line["value"])
}
