package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
)

func TestInfluxSink_Record(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.Event{
		Kind:   coremetrics.KindNegotiationOK,
		Source: "station/Central",
		Target: "bus_2",
		Value:  8,
		Extra:  "bids=2 refusals=1",
		Time:   now,
	}
	if err := sink.Record(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("simulation_event").
		AddTag("kind", "NEGOTIATION_OK").
		AddTag("source", "station/Central").
		AddTag("target", "bus_2").
		AddField("value", 8.0).
		AddField("extra", "bids=2 refusals=1").
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if strings.TrimSpace(body) != expected {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestInfluxSink_RecordVehicleStatus(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = strings.TrimSpace(string(data))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	st := coremetrics.VehicleStatus{VehicleID: "bus_1", Location: "South", State: model.StateMoving, Load: 2, Fuel: 87.6, Time: now}
	if err := sink.RecordVehicleStatus(st); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("vehicle_id", "bus_1").
		AddTag("status", "moving").
		AddField("location", "South").
		AddField("load", 2).
		AddField("fuel", 87.6).
		SetTime(now)
	if exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond)); body != exp {
		t.Errorf("unexpected body: %s", body)
	}
}
