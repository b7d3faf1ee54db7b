package roadnet

import "github.com/kilianp07/transitsim/core/model"

var (
	busOnly  = []model.Class{model.ClassBus}
	tramOnly = []model.Class{model.ClassTram}
	shared   = []model.Class{model.ClassBus, model.ClassTram}
)

// SampleEdges is the nine-node demo city. Time cost starts equal to distance.
func SampleEdges() []EdgeSpec {
	var edges []EdgeSpec
	both := func(a, b string, d float64, cls []model.Class) {
		edges = append(edges,
			EdgeSpec{From: a, To: b, TimeCost: d, Distance: d, Classes: cls},
			EdgeSpec{From: b, To: a, TimeCost: d, Distance: d, Classes: cls},
		)
	}
	one := func(a, b string, d float64, cls []model.Class) {
		edges = append(edges, EdgeSpec{From: a, To: b, TimeCost: d, Distance: d, Classes: cls})
	}

	both("Central", "North", 10, shared)
	both("Central", "East", 10, shared)
	both("Central", "South", 12, busOnly)
	both("Central", "West", 8, tramOnly)
	both("West", "North", 12, busOnly)
	both("North", "East", 8, shared)
	one("East", "Stadium", 6, tramOnly)
	one("Stadium", "North", 7, tramOnly)
	both("South", "University", 5, busOnly)
	both("West", "University", 18, busOnly)
	both("South", "Airport", 25, busOnly)
	both("East", "Airport", 35, busOnly)
	both("South", model.DefaultDepotID, 5, busOnly)
	return edges
}

// SampleCity builds the demo city.
func SampleCity() *Network {
	n, err := FromEdges(SampleEdges())
	if err != nil {
		panic(err)
	}
	return n
}

// SampleStations lists every non-depot node of the demo city.
func SampleStations() []string {
	return []string{"Central", "North", "South", "East", "West", "Airport", "University", "Stadium"}
}
