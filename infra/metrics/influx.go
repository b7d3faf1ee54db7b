package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/infra/logger"
)

// InfluxSink writes simulation events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Record writes ev as one simulation_event point.
func (s *InfluxSink) Record(ev coremetrics.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("simulation_event").
		AddTag("kind", string(ev.Kind)).
		AddTag("source", ev.Source)
	if ev.Target != "" {
		p = p.AddTag("target", ev.Target)
	}
	p = p.AddField("value", round3(ev.Value))
	if ev.Extra != "" {
		p = p.AddField("extra", ev.Extra)
	}
	p = p.SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordVehicleStatus writes a snapshot of a vehicle.
func (s *InfluxSink) RecordVehicleStatus(st coremetrics.VehicleStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("vehicle_id", st.VehicleID).
		AddTag("status", string(st.State)).
		AddField("location", st.Location).
		AddField("load", st.Load).
		AddField("fuel", round3(st.Fuel)).
		SetTime(st.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
