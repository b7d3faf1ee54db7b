package model

import "fmt"

// Class identifies the kind of vehicle. It decides which edges are
// traversable and whether fuel is tracked.
type Class string

const (
	ClassBus  Class = "bus"
	ClassTram Class = "tram"
)

// ParseClass validates a class name.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassBus, ClassTram:
		return Class(s), nil
	default:
		return "", fmt.Errorf("unknown vehicle class %q", s)
	}
}

// TracksFuel reports whether vehicles of this class consume fuel.
func (c Class) TracksFuel() bool { return c != ClassTram }

// State is the operating state of a vehicle. Exactly one holds at a time.
type State string

const (
	StateIdle      State = "idle"
	StateMoving    State = "moving"
	StateBroken    State = "broken"
	StateRefueling State = "refueling"
)

// InService reports whether the vehicle may step and divert.
func (s State) InService() bool { return s != StateBroken && s != StateRefueling }

// Issue is the kind of fault carried by a breakdown alert.
type Issue string

const (
	IssueNoFuel     Issue = "no_fuel"
	IssueEngineFail Issue = "engine_fail"
)

// FullTank is the fuel level after any refuel or fuel-related repair.
const FullTank = 100.0

// Rider is one manifest entry.
type Rider struct {
	PassengerID string `json:"passenger_id"`
	Destination string `json:"destination"`
}

// VehicleSpec is the static description of a fleet member.
type VehicleSpec struct {
	ID       string   `json:"id"`
	Class    Class    `json:"class"`
	Capacity int      `json:"capacity"`
	Start    string   `json:"start"`
	Route    []string `json:"route"`
	// Fuel is the initial level. Zero means a full tank.
	Fuel float64 `json:"fuel"`
}

// Validate checks that the vehicle definition is usable.
func (v VehicleSpec) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id required")
	}
	if _, err := ParseClass(string(v.Class)); err != nil {
		return fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	if v.Capacity <= 0 {
		return fmt.Errorf("vehicle %s: capacity must be positive", v.ID)
	}
	if v.Start == "" {
		return fmt.Errorf("vehicle %s: start location required", v.ID)
	}
	if v.Fuel < 0 || v.Fuel > FullTank {
		return fmt.Errorf("vehicle %s: fuel must be within [0,%g]", v.ID, FullTank)
	}
	return nil
}
