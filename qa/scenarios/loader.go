package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/transitsim/core/model"
)

// VehicleDef overrides the default fleet.
type VehicleDef struct {
	ID       string   `yaml:"id"`
	Class    string   `yaml:"class"`
	Capacity int      `yaml:"capacity"`
	Start    string   `yaml:"start"`
	Route    []string `yaml:"route,omitempty"`
	Fuel     float64  `yaml:"fuel,omitempty"`
}

func (v VehicleDef) ToModel() model.VehicleSpec {
	return model.VehicleSpec{
		ID:       v.ID,
		Class:    model.Class(v.Class),
		Capacity: v.Capacity,
		Start:    v.Start,
		Route:    v.Route,
		Fuel:     v.Fuel,
	}
}

// RequestDef is one passenger asking for a trip at At.
type RequestDef struct {
	Passenger   string        `yaml:"passenger"`
	Station     string        `yaml:"station"`
	Destination string        `yaml:"destination"`
	At          time.Duration `yaml:"at,omitempty"`
	// CancelAfter withdraws the passenger this long after asking.
	CancelAfter time.Duration `yaml:"cancel_after,omitempty"`
}

// TrafficDef sets an edge weight at At.
type TrafficDef struct {
	From   string        `yaml:"from"`
	To     string        `yaml:"to"`
	Weight float64       `yaml:"weight"`
	At     time.Duration `yaml:"at,omitempty"`
}

// Expected counts passenger outcomes.
type Expected struct {
	Found   int `yaml:"found"`
	Refused int `yaml:"refused"`
	NoReply int `yaml:"no_reply"`
}

type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Speedup     float64 `yaml:"speedup,omitempty"`
	// Window overrides the negotiation window.
	Window time.Duration `yaml:"window,omitempty"`
	// Timeout bounds each passenger's wait for a reply.
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Fleet    []VehicleDef  `yaml:"fleet,omitempty"`
	Requests []RequestDef  `yaml:"requests"`
	Traffic  []TrafficDef  `yaml:"traffic,omitempty"`
	Expected Expected      `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	sc.setDefaults()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

func (s *Scenario) setDefaults() {
	if s.Speedup <= 0 {
		s.Speedup = 100
	}
	if s.Timeout <= 0 {
		s.Timeout = time.Minute
	}
}

// Validate checks the scenario is self-consistent.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name required")
	}
	seen := map[string]bool{}
	for _, r := range s.Requests {
		if r.Passenger == "" || r.Station == "" || r.Destination == "" {
			return fmt.Errorf("request needs passenger, station and destination")
		}
		if seen[r.Passenger] {
			return fmt.Errorf("duplicate passenger %s", r.Passenger)
		}
		seen[r.Passenger] = true
	}
	if got := s.Expected.Found + s.Expected.Refused + s.Expected.NoReply; got != len(s.Requests) {
		return fmt.Errorf("expected outcomes cover %d of %d requests", got, len(s.Requests))
	}
	return nil
}
