package model

// Refusal and rejection reasons carried in {reason} payloads.
const (
	ReasonLowFuel           = "low_fuel"
	ReasonFullCapacity      = "full_capacity"
	ReasonRouteImpossible   = "route_impossible"
	ReasonInsufficientFuel  = "insufficient_fuel_safety"
	ReasonCapacityFullError = "capacity_full_error"
	ReasonNoVehicles        = "no_vehicles_available"
	ReasonBetterProposal    = "better_proposal_found"
	ReasonRequestCancelled  = "request_cancelled"
	ReasonRequestExpired    = "request_expired"
)

// Well-known agent ids.
const (
	RepairPoolID   = "repair"
	RefuelID       = "refuel"
	DashboardID    = "dashboard"
	DefaultDepotID = "GasStation"
)

// StationAgentID returns the mailbox id of the station at node.
func StationAgentID(node string) string { return "station/" + node }

// VehicleAgentID returns the mailbox id of a vehicle.
func VehicleAgentID(id string) string { return "vehicle/" + id }
