package traffic

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
)

var (
	updatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_traffic_updates_total",
		Help: "Synthetic traffic updates emitted",
	}, []string{"condition"})
	emitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transit_traffic_emit_errors_total",
		Help: "Traffic updates that failed to reach at least one vehicle",
	})
)

func init() {
	prometheus.MustRegister(updatesTotal, emitErrors)
}

// Config drives the congestion generator.
type Config struct {
	Enabled        bool          `json:"enabled"`
	Interval       time.Duration `json:"interval"`
	JamProbability float64       `json:"jam_probability"`
	JamMin         int           `json:"jam_min"`
	JamMax         int           `json:"jam_max"`
	NormalWeight   float64       `json:"normal_weight"`
	Edges          [][2]string   `json:"edges"`
	Seed           int64         `json:"seed"`
}

// DefaultEdges are the congested corridors of the sample city, both ways.
func DefaultEdges() [][2]string {
	return [][2]string{
		{"Central", "North"}, {"North", "Central"},
		{"Central", "East"}, {"East", "Central"},
		{"South", "Airport"}, {"Airport", "South"},
	}
}

// DefaultConfig returns the generator defaults. The generator is off
// unless enabled.
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Second,
		JamProbability: 0.7,
		JamMin:         30,
		JamMax:         60,
		NormalWeight:   10,
		Edges:          DefaultEdges(),
		Seed:           1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("traffic.interval must be positive")
	case c.JamProbability < 0 || c.JamProbability > 1:
		return fmt.Errorf("traffic.jam_probability must be within [0,1]")
	case c.JamMin < 0 || c.JamMax < c.JamMin:
		return fmt.Errorf("traffic jam range [%d,%d] is invalid", c.JamMin, c.JamMax)
	case c.NormalWeight < 0:
		return fmt.Errorf("traffic.normal_weight must not be negative")
	case c.Enabled && len(c.Edges) == 0:
		return fmt.Errorf("traffic.edges must not be empty")
	}
	return nil
}

// Generator periodically picks an edge and a congestion weight and
// broadcasts it.
type Generator struct {
	cfg  Config
	ch   *Channel
	clk  clock.Clock
	log  logger.Logger
	rand *rand.Rand
}

// NewGenerator creates a generator seeded from cfg.
func NewGenerator(cfg Config, ch *Channel, clk clock.Clock, log logger.Logger) *Generator {
	return &Generator{
		cfg:  cfg,
		ch:   ch,
		clk:  clk,
		log:  log,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Next draws the next update.
func (g *Generator) Next() message.TrafficUpdate {
	e := g.cfg.Edges[g.rand.Intn(len(g.cfg.Edges))]
	if g.rand.Float64() < g.cfg.JamProbability {
		w := g.cfg.JamMin + g.rand.Intn(g.cfg.JamMax-g.cfg.JamMin+1)
		return message.TrafficUpdate{Edge: e, NewWeight: float64(w)}
	}
	return message.TrafficUpdate{Edge: e, NewWeight: g.cfg.NormalWeight}
}

// Run emits an update every interval until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	if len(g.cfg.Edges) == 0 {
		return
	}
	clock.Every(ctx, g.clk, g.cfg.Interval, func(ctx context.Context) {
		up := g.Next()
		condition := "normal"
		if up.NewWeight != g.cfg.NormalWeight {
			condition = "jam"
		}
		g.log.Infof("traffic %s->%s weight=%.0f (%s)", up.Edge[0], up.Edge[1], up.NewWeight, condition)
		if err := g.ch.Broadcast(ctx, up.Edge[0], up.Edge[1], up.NewWeight); err != nil {
			emitErrors.Inc()
			g.log.Errorf("traffic broadcast: %v", err)
			return
		}
		updatesTotal.WithLabelValues(condition).Inc()
	})
}
