package config

import "github.com/kilianp07/transitsim/core/model"

// DefaultFleet is the five-vehicle sample fleet.
func DefaultFleet() []model.VehicleSpec {
	return []model.VehicleSpec{
		{ID: "bus_1", Class: model.ClassBus, Capacity: 4, Start: "South",
			Route: []string{"South", "Central", "North", "West", "University", "South"}},
		{ID: "bus_2", Class: model.ClassBus, Capacity: 4, Start: "University",
			Route: []string{"University", "South", "Airport", "East", "North", "West", "University"}},
		{ID: "bus_3", Class: model.ClassBus, Capacity: 4, Start: "Airport",
			Route: []string{"Airport", "South", "Central", "East", "Airport"}},
		{ID: "tram_1", Class: model.ClassTram, Capacity: 6, Start: "North",
			Route: []string{"North", "East", "Stadium", "North"}},
		{ID: "tram_2", Class: model.ClassTram, Capacity: 6, Start: "East",
			Route: []string{"East", "Central", "West", "Central", "North", "East"}},
	}
}
