// Package app wires the simulation together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/transitsim/api"
	"github.com/kilianp07/transitsim/config"
	"github.com/kilianp07/transitsim/core/clock"
	coremetrics "github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/negotiation"
	"github.com/kilianp07/transitsim/core/refuel"
	"github.com/kilianp07/transitsim/core/repair"
	"github.com/kilianp07/transitsim/core/roadnet"
	"github.com/kilianp07/transitsim/core/station"
	"github.com/kilianp07/transitsim/core/traffic"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/core/vehicle"
	"github.com/kilianp07/transitsim/core/vehiclestatus"
	"github.com/kilianp07/transitsim/infra/local"
	"github.com/kilianp07/transitsim/infra/logger"
	_ "github.com/kilianp07/transitsim/infra/metrics" // sink factories
	"github.com/kilianp07/transitsim/infra/mqtt"
	"github.com/kilianp07/transitsim/infra/telemetry"
	"github.com/kilianp07/transitsim/infra/tracing"
	"github.com/kilianp07/transitsim/internal/eventbus"
)

// Option customises a Service before its agents are built.
type Option func(*Service)

// WithTransport replaces the configured transport.
func WithTransport(t transport.Transport) Option { return func(s *Service) { s.tr = t } }

// WithClock replaces the scaled clock built from clock.speedup.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

// WithSink replaces the sinks built from metrics.sinks.
func WithSink(sink coremetrics.Sink) Option { return func(s *Service) { s.sink = sink } }

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option { return func(s *Service) { s.log = l } }

// Service owns every agent of one simulation.
type Service struct {
	cfg   *config.Config
	log   logger.Logger
	tr    transport.Transport
	clk   clock.Clock
	sink  coremetrics.Sink
	store *vehiclestatus.MemoryStore
	net   *roadnet.Network

	stations  []*station.Station
	vehicles  []*vehicle.Controller
	pool      *repair.Pool
	refuel    *refuel.Service
	collector *telemetry.Collector
	traffic   *traffic.Channel
	generator *traffic.Generator

	inboxes  map[string]transport.Inbox
	outcomes *eventbus.Fanout[negotiation.Outcome]
	agentLog func(id string) logger.Logger

	shutdownTracing func(context.Context) error
	closeOnce       sync.Once
}

// New builds every agent and registers its inbox. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		store:    vehiclestatus.NewMemoryStore(),
		inboxes:  make(map[string]transport.Inbox),
		outcomes: eventbus.NewFanout[negotiation.Outcome](),
		agentLog: func(id string) logger.Logger { return logger.New(id) },
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logger.New("service")
	} else {
		l := s.log
		s.agentLog = func(string) logger.Logger { return l }
	}
	if err := s.build(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	var err error
	s.shutdownTracing, err = tracing.Init(ctx, s.cfg.Tracing, s.log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if s.clk == nil {
		s.clk = clock.NewScaled(s.cfg.Clock.Speedup)
	}
	if s.sink == nil {
		if s.sink, err = coremetrics.NewSink(s.cfg.Metrics.Sinks); err != nil {
			return fmt.Errorf("metrics sink: %w", err)
		}
	}
	if s.tr == nil {
		if s.tr, err = newTransport(s.cfg.Transport, s.agentLog("transport")); err != nil {
			return err
		}
	}
	if s.net, err = s.cfg.RoadNetwork(); err != nil {
		return err
	}

	vehicleIDs := make([]string, 0, len(s.cfg.Fleet))
	for _, spec := range s.cfg.Fleet {
		vehicleIDs = append(vehicleIDs, model.VehicleAgentID(spec.ID))
	}

	for i, spec := range s.cfg.Fleet {
		id := model.VehicleAgentID(spec.ID)
		v, err := vehicle.New(spec, s.net, s.cfg.Network.Depots, s.cfg.Vehicle, vehicle.Deps{
			Out:         s.tr,
			Clock:       s.clk,
			Sink:        s.sink,
			Log:         s.agentLog(id),
			Rand:        rand.New(rand.NewSource(s.cfg.Vehicle.Seed + int64(i))),
			DashboardID: model.DashboardID,
		})
		if err != nil {
			return err
		}
		if err := s.register(id); err != nil {
			return err
		}
		s.vehicles = append(s.vehicles, v)
	}

	for _, node := range s.cfg.Stations() {
		id := model.StationAgentID(node)
		st, err := station.New(node, vehicleIDs, s.cfg.Station, s.cfg.Negotiation, station.Deps{
			Out:   s.tr,
			Clock: s.clk,
			Sink:  s.sink,
			Log:   s.agentLog(id),
		})
		if err != nil {
			return err
		}
		if err := s.register(id); err != nil {
			return err
		}
		st.Outcomes()
		s.stations = append(s.stations, st)
	}

	if s.pool, err = repair.NewPool(s.cfg.Repair, s.tr, s.clk, s.sink, s.agentLog(model.RepairPoolID)); err != nil {
		return err
	}
	if err := s.register(model.RepairPoolID); err != nil {
		return err
	}
	if s.refuel, err = refuel.NewService(s.cfg.Refuel, s.tr, s.clk, s.sink, s.agentLog(model.RefuelID)); err != nil {
		return err
	}
	if err := s.register(model.RefuelID); err != nil {
		return err
	}
	s.collector = telemetry.NewCollector(s.store, s.sink, s.clk, s.agentLog(model.DashboardID))
	if err := s.register(model.DashboardID); err != nil {
		return err
	}

	s.traffic = traffic.NewChannel(vehicleIDs, s.tr, s.agentLog(traffic.SenderID))
	if s.cfg.Traffic.Enabled {
		s.generator = traffic.NewGenerator(s.cfg.Traffic, s.traffic, s.clk, s.agentLog(traffic.SenderID))
	}
	s.log.Infof("built %d vehicles, %d stations on %d nodes", len(s.vehicles), len(s.stations), len(s.net.Nodes()))
	return nil
}

func newTransport(cfg config.TransportConfig, log logger.Logger) (transport.Transport, error) {
	switch cfg.Kind {
	case "", "local":
		return local.New(log), nil
	case "mqtt":
		t, err := mqtt.New(cfg.MQTT, log)
		if err != nil {
			return nil, fmt.Errorf("mqtt transport: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown transport kind %s", cfg.Kind)
}

func (s *Service) register(id string) error {
	in, err := s.tr.Register(id)
	if err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	s.inboxes[id] = in
	return nil
}

// Run starts every agent and blocks until ctx is canceled. An agent whose
// inbox closes stops alone; the rest keep running.
func (s *Service) Run(ctx context.Context) error {
	var g errgroup.Group
	agent := func(id string, run func(context.Context, transport.Inbox) error) {
		in := s.inboxes[id]
		g.Go(func() error {
			if err := run(ctx, in); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					s.log.Warnf("agent %s stopped: %v", id, err)
					return nil
				}
				return fmt.Errorf("%s: %w", id, err)
			}
			return nil
		})
	}

	for _, v := range s.vehicles {
		agent(v.ID(), v.Run)
	}
	for _, st := range s.stations {
		out := st.Outcomes()
		agent(st.ID(), func(ctx context.Context, in transport.Inbox) error {
			err := st.Run(ctx, in)
			s.drain(out)
			return err
		})
		g.Go(func() error {
			s.forward(ctx, out)
			return nil
		})
	}
	agent(model.RepairPoolID, s.pool.Run)
	agent(model.RefuelID, s.refuel.Run)
	agent(model.DashboardID, s.collector.Run)

	if s.generator != nil {
		g.Go(func() error {
			s.generator.Run(ctx)
			return nil
		})
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error {
			return api.Serve(ctx, addr, api.NewMux(s.store, nil), s.agentLog("api"))
		})
	}
	s.log.Infof("simulation running")
	return g.Wait()
}

func (s *Service) forward(ctx context.Context, in <-chan negotiation.Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-in:
			s.outcomes.Publish(out)
		}
	}
}

// drain publishes outcomes left behind once a station has stopped.
func (s *Service) drain(in <-chan negotiation.Outcome) {
	for {
		select {
		case out := <-in:
			s.outcomes.Publish(out)
		default:
			return
		}
	}
}

// Outcomes subscribes to the result of every negotiation session finished
// from now on. A subscriber that falls size results behind misses the rest.
func (s *Service) Outcomes(size int) <-chan negotiation.Outcome { return s.outcomes.Subscribe(size) }

// Sender lets callers inject messages, e.g. travel requests.
func (s *Service) Sender() transport.Sender { return s.tr }

// Traffic returns the channel that fans traffic updates out to the fleet.
func (s *Service) Traffic() *traffic.Channel { return s.traffic }

// Store returns the latest reported status of each vehicle.
func (s *Service) Store() vehiclestatus.Store { return s.store }

// Clock returns the simulation clock.
func (s *Service) Clock() clock.Clock { return s.clk }

// Network returns the shared road graph. Vehicles route on their own copies.
func (s *Service) Network() *roadnet.Network { return s.net }

// Register opens an extra inbox, e.g. for a passenger.
func (s *Service) Register(id string) (transport.Inbox, error) { return s.tr.Register(id) }

// Station returns the station at node.
func (s *Service) Station(node string) (*station.Station, bool) {
	for _, st := range s.stations {
		if st.Node() == node {
			return st, true
		}
	}
	return nil, false
}

// Vehicles returns every controller.
func (s *Service) Vehicles() []*vehicle.Controller { return s.vehicles }

// Close releases the transport and flushes tracing.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.outcomes.Close()
		if s.tr != nil {
			err = s.tr.Close()
		}
		tracing.ShutdownWithTimeout(context.Background(), s.shutdownTracing, s.log)
		if c, ok := s.sink.(interface{ Close() }); ok {
			c.Close()
		}
	})
	return err
}
