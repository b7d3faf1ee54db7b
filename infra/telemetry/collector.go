// Package telemetry consumes vehicle status updates and keeps the dashboard
// store and the metric sink current.
package telemetry

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
	coremetrics "github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/core/vehiclestatus"
	"github.com/kilianp07/transitsim/infra/logger"
)

var (
	updatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_status_updates_total",
		Help: "Number of vehicle status updates received",
	})
	ignoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_ignored_messages_total",
		Help: "Messages on the dashboard inbox that were not status updates",
	})
	lastCollect = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_last_collect_timestamp_seconds",
		Help: "Unix timestamp of last status update",
	})
)

func init() {
	prometheus.MustRegister(updatesTotal, ignoredTotal, lastCollect)
}

// Collector reads the dashboard inbox.
type Collector struct {
	store vehiclestatus.Store
	sink  coremetrics.Sink
	clk   clock.Clock
	log   logger.Logger
}

// NewCollector creates a collector writing into store and sink.
func NewCollector(store vehiclestatus.Store, sink coremetrics.Sink, clk clock.Clock, log logger.Logger) *Collector {
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	if log == nil {
		log = logger.New("telemetry")
	}
	return &Collector{store: store, sink: sink, clk: clk, log: log}
}

// Run consumes in until ctx is done or the inbox closes.
func (c *Collector) Run(ctx context.Context, in transport.Inbox) error {
	for {
		env, ok, err := transport.Receive(ctx, in, c.clk, 0)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			return nil
		}
		if ok {
			c.Process(env)
		}
	}
}

// Process applies one envelope. Anything but a status update is counted and
// dropped.
func (c *Collector) Process(env message.Envelope) {
	up, ok := env.Payload.(message.StatusUpdate)
	if !ok {
		ignoredTotal.Inc()
		c.log.Debugf("ignoring %s", env)
		return
	}
	now := c.clk.Now()
	if c.store != nil {
		c.store.Set(vehiclestatus.Status{
			VehicleID: up.VehicleID,
			Location:  up.Location,
			State:     up.Status,
			Load:      up.Load,
			Fuel:      up.Fuel,
			UpdatedAt: now,
		})
	}
	coremetrics.EmitStatus(c.sink, c.log, coremetrics.VehicleStatus{
		VehicleID: up.VehicleID,
		Location:  up.Location,
		State:     up.Status,
		Load:      up.Load,
		Fuel:      up.Fuel,
		Time:      now,
	})
	updatesTotal.Inc()
	lastCollect.SetToCurrentTime()
}
