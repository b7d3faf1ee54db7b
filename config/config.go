package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/negotiation"
	"github.com/kilianp07/transitsim/core/refuel"
	"github.com/kilianp07/transitsim/core/repair"
	"github.com/kilianp07/transitsim/core/roadnet"
	"github.com/kilianp07/transitsim/core/station"
	"github.com/kilianp07/transitsim/core/traffic"
	"github.com/kilianp07/transitsim/core/vehicle"
	"github.com/kilianp07/transitsim/infra/tracing"
)

// EnvPrefix marks environment overrides, e.g. TRANSIT_REPAIR__MECHANICS=3.
const EnvPrefix = "TRANSIT_"

type Config struct {
	Logging     LoggingConfig       `json:"logging"`
	Transport   TransportConfig     `json:"transport"`
	Clock       ClockConfig         `json:"clock"`
	Network     NetworkConfig       `json:"network"`
	Negotiation negotiation.Config  `json:"negotiation"`
	Station     station.Config      `json:"station"`
	Vehicle     vehicle.Config      `json:"vehicle"`
	Fleet       []model.VehicleSpec `json:"fleet"`
	Repair      repair.Config       `json:"repair"`
	Refuel      refuel.Config       `json:"refuel"`
	Traffic     traffic.Config      `json:"traffic"`
	Metrics     metrics.Config      `json:"metrics"`
	Tracing     tracing.Config      `json:"tracing"`
}

// ClockConfig scales simulated time against wall time.
type ClockConfig struct {
	Speedup float64 `json:"speedup"`
}

// NetworkConfig describes the road graph. No edges means the sample city.
type NetworkConfig struct {
	Edges  []roadnet.EdgeSpec `json:"edges"`
	Depots []string           `json:"depots"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := base()
	cfg.SetDefaults()
	return cfg
}

// base holds scalar defaults whose zero value is meaningful. Slices are
// left empty so a loaded list replaces rather than merges with them.
func base() *Config {
	cfg := &Config{
		Vehicle: vehicle.DefaultConfig(),
		Traffic: traffic.DefaultConfig(),
	}
	cfg.Traffic.Edges = nil
	return cfg
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Transport.SetDefaults()
	if c.Clock.Speedup <= 0 {
		c.Clock.Speedup = 1
	}
	if len(c.Network.Depots) == 0 {
		c.Network.Depots = []string{model.DefaultDepotID}
	}
	c.Negotiation.SetDefaults()
	c.Station.SetDefaults()
	if len(c.Fleet) == 0 {
		c.Fleet = DefaultFleet()
	}
	c.Repair.SetDefaults()
	c.Refuel.SetDefaults()
	if len(c.Traffic.Edges) == 0 {
		c.Traffic.Edges = traffic.DefaultEdges()
	}
	c.Tracing.SetDefaults()
}

// Validate checks every section and the fleet against the road network.
func (c *Config) Validate() error {
	var errs []error
	for _, v := range []interface{ Validate() error }{
		c.Logging, c.Transport, c.Negotiation, c.Station, c.Vehicle,
		c.Repair, c.Refuel, c.Traffic, c.Tracing,
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	net, err := c.RoadNetwork()
	if err != nil {
		errs = append(errs, err)
	} else {
		seen := map[string]bool{}
		for _, v := range c.Fleet {
			if err := v.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			if seen[v.ID] {
				errs = append(errs, fmt.Errorf("fleet: duplicate vehicle %s", v.ID))
			}
			seen[v.ID] = true
			if !net.Has(v.Start) {
				errs = append(errs, fmt.Errorf("fleet %s: unknown start %s", v.ID, v.Start))
			}
		}
		for _, d := range c.Network.Depots {
			if !net.Has(d) {
				errs = append(errs, fmt.Errorf("network: unknown depot %s", d))
			}
		}
		for _, s := range c.Station.IDs {
			if !net.Has(s) {
				errs = append(errs, fmt.Errorf("station: unknown node %s", s))
			}
		}
	}
	return errors.Join(errs...)
}

// RoadNetwork builds the configured graph.
func (c *Config) RoadNetwork() (*roadnet.Network, error) {
	if len(c.Network.Edges) == 0 {
		return roadnet.SampleCity(), nil
	}
	n, err := roadnet.FromEdges(c.Network.Edges)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	return n, nil
}

// Stations returns the nodes that run a station agent.
func (c *Config) Stations() []string {
	if len(c.Station.IDs) > 0 {
		return c.Station.IDs
	}
	if len(c.Network.Edges) == 0 {
		return roadnet.SampleStations()
	}
	net, err := c.RoadNetwork()
	if err != nil {
		return nil
	}
	var out []string
	for _, n := range net.Nodes() {
		isDepot := false
		for _, d := range c.Network.Depots {
			isDepot = isDepot || d == n
		}
		if !isDepot {
			out = append(out, n)
		}
	}
	return out
}

// Load reads a yaml or json file, applies TRANSIT_ environment overrides,
// then defaults, and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	cfg := base()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
