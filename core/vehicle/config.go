package vehicle

import (
	"fmt"
	"time"
)

// Config holds the fleet-wide driving constants.
type Config struct {
	// FuelConsumption is fuel spent per distance unit.
	FuelConsumption float64 `json:"fuel_consumption"`
	// LowFuelThreshold below which a vehicle refuses every call for proposals.
	LowFuelThreshold float64 `json:"low_fuel_threshold"`
	// SafetyBuffer is added to the depot reserve when bidding.
	SafetyBuffer float64 `json:"safety_buffer"`
	// ReturnBuffer is the margin kept for reaching a depot after a drop-off.
	ReturnBuffer float64 `json:"return_buffer"`
	// BreakdownProbability is rolled after each hop.
	BreakdownProbability float64 `json:"breakdown_probability"`
	// TravelTimeUnit is the simulated time one unit of time cost takes.
	TravelTimeUnit time.Duration `json:"travel_time_unit"`
	// Dwell is the pause at each stop.
	Dwell time.Duration `json:"dwell"`
	// Tick bounds each wait for a message before the vehicle steps.
	Tick time.Duration `json:"tick"`
	// Seed feeds the fault generator. Each vehicle offsets it by its index.
	Seed int64 `json:"seed"`
}

// DefaultConfig returns the standard constants.
func DefaultConfig() Config {
	return Config{
		FuelConsumption:      0.2,
		LowFuelThreshold:     30,
		SafetyBuffer:         15,
		ReturnBuffer:         10,
		BreakdownProbability: 0.01,
		TravelTimeUnit:       100 * time.Millisecond,
		Dwell:                1500 * time.Millisecond,
		Tick:                 100 * time.Millisecond,
		Seed:                 1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.FuelConsumption < 0:
		return fmt.Errorf("vehicle.fuel_consumption must not be negative")
	case c.BreakdownProbability < 0 || c.BreakdownProbability > 1:
		return fmt.Errorf("vehicle.breakdown_probability must be within [0,1]")
	case c.TravelTimeUnit < 0 || c.Dwell < 0:
		return fmt.Errorf("vehicle durations must not be negative")
	case c.Tick <= 0:
		return fmt.Errorf("vehicle.tick must be positive")
	}
	return nil
}
