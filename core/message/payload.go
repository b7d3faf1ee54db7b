package message

import (
	"encoding/json"

	"github.com/kilianp07/transitsim/core/model"
)

// Kind discriminates payload variants on the wire.
type Kind string

const (
	KindRideRequest    Kind = "ride_request"
	KindBid            Kind = "bid"
	KindAward          Kind = "award"
	KindRefusal        Kind = "refusal"
	KindTravelRequest  Kind = "travel_request"
	KindCancel         Kind = "cancel"
	KindBreakdownAlert Kind = "breakdown_alert"
	KindRepairDone     Kind = "repair_done"
	KindRefuelRequest  Kind = "refuel_request"
	KindRefuelDone     Kind = "refuel_response"
	KindStatusUpdate   Kind = "status_update"
	KindTrafficUpdate  Kind = "traffic_update"
	KindDemandSurge    Kind = "demand_surge"
	KindVehicleFound   Kind = "vehicle_found"
)

// Payload is implemented only by the variants in this file.
type Payload interface {
	Kind() Kind
	payload()
}

// RideRequest is the call-for-proposals body.
type RideRequest struct {
	Origin         string `json:"origin"`
	Destination    string `json:"destination"`
	PassengerCount int    `json:"passenger_count"`
}

// Bid answers a RideRequest.
type Bid struct {
	VehicleID string   `json:"vehicle_id"`
	ETA       float64  `json:"eta"`
	Capacity  int      `json:"capacity"`
	Route     []string `json:"route"`
}

// Award accepts a bid on behalf of a passenger.
type Award struct {
	PassengerID string `json:"passenger_id"`
}

// Refusal carries a reason code. It travels as REFUSE, REJECT_PROPOSAL or FAILURE.
type Refusal struct {
	Reason string `json:"reason"`
}

// TravelRequest is sent by a passenger to the station it waits at.
type TravelRequest struct {
	Destination string `json:"destination"`
}

// CancelRequest withdraws a passenger from a station queue.
type CancelRequest struct{}

// BreakdownAlert asks the repair pool for service.
type BreakdownAlert struct {
	VehicleID string      `json:"vehicle_id"`
	Location  string      `json:"location"`
	Issue     model.Issue `json:"issue"`
}

// RepairDone reports a finished repair.
type RepairDone struct {
	Status   string `json:"status"`
	Refueled bool   `json:"refueled"`
}

// RefuelRequest asks the depot for fuel.
type RefuelRequest struct {
	AmountNeeded float64 `json:"amount_needed"`
}

// RefuelDone reports a finished refuel.
type RefuelDone struct {
	Status    string  `json:"status"`
	FuelLevel float64 `json:"fuel_level"`
}

// StatusUpdate feeds the dashboard.
type StatusUpdate struct {
	VehicleID string      `json:"vehicle_id"`
	Location  string      `json:"location"`
	Status    model.State `json:"status"`
	Load      int         `json:"load"`
	Fuel      float64     `json:"fuel"`
}

// TrafficUpdate rewrites the time cost of one directed edge.
type TrafficUpdate struct {
	Edge      [2]string `json:"edge"`
	NewWeight float64   `json:"new_weight"`
}

// DemandSurge advertises a crowded station.
type DemandSurge struct {
	Station string `json:"station"`
	Count   int    `json:"count"`
}

// VehicleFound tells a passenger a vehicle was assigned.
type VehicleFound struct {
	Status string  `json:"status"`
	ETA    float64 `json:"eta"`
}

const (
	StatusRepaired     = "repaired"
	StatusRefueled     = "refueled"
	StatusVehicleFound = "vehicle_found"
)

func (RideRequest) Kind() Kind    { return KindRideRequest }
func (Bid) Kind() Kind            { return KindBid }
func (Award) Kind() Kind          { return KindAward }
func (Refusal) Kind() Kind        { return KindRefusal }
func (TravelRequest) Kind() Kind  { return KindTravelRequest }
func (CancelRequest) Kind() Kind  { return KindCancel }
func (BreakdownAlert) Kind() Kind { return KindBreakdownAlert }
func (RepairDone) Kind() Kind     { return KindRepairDone }
func (RefuelRequest) Kind() Kind  { return KindRefuelRequest }
func (RefuelDone) Kind() Kind     { return KindRefuelDone }
func (StatusUpdate) Kind() Kind   { return KindStatusUpdate }
func (TrafficUpdate) Kind() Kind  { return KindTrafficUpdate }
func (DemandSurge) Kind() Kind    { return KindDemandSurge }
func (VehicleFound) Kind() Kind   { return KindVehicleFound }

func (RideRequest) payload()    {}
func (Bid) payload()            {}
func (Award) payload()          {}
func (Refusal) payload()        {}
func (TravelRequest) payload()  {}
func (CancelRequest) payload()  {}
func (BreakdownAlert) payload() {}
func (RepairDone) payload()     {}
func (RefuelRequest) payload()  {}
func (RefuelDone) payload()     {}
func (StatusUpdate) payload()   {}
func (TrafficUpdate) payload()  {}
func (DemandSurge) payload()    {}
func (VehicleFound) payload()   {}

// performatives lists, per kind, the acts it may travel under.
var performatives = map[Kind][]Performative{
	KindRideRequest:    {CFP},
	KindBid:            {Propose},
	KindAward:          {AcceptProposal},
	KindRefusal:        {Refuse, RejectProposal, Failure},
	KindTravelRequest:  {Request},
	KindCancel:         {Cancel},
	KindBreakdownAlert: {Request},
	KindRepairDone:     {Inform},
	KindRefuelRequest:  {Request},
	KindRefuelDone:     {Inform},
	KindStatusUpdate:   {Inform},
	KindTrafficUpdate:  {Inform},
	KindDemandSurge:    {Inform},
	KindVehicleFound:   {Inform},
}

// decoders parse the body of each kind into its value variant.
var decoders = map[Kind]func(json.RawMessage) (Payload, error){
	KindRideRequest:    decodeAs[RideRequest],
	KindBid:            decodeAs[Bid],
	KindAward:          decodeAs[Award],
	KindRefusal:        decodeAs[Refusal],
	KindTravelRequest:  decodeAs[TravelRequest],
	KindCancel:         decodeAs[CancelRequest],
	KindBreakdownAlert: decodeAs[BreakdownAlert],
	KindRepairDone:     decodeAs[RepairDone],
	KindRefuelRequest:  decodeAs[RefuelRequest],
	KindRefuelDone:     decodeAs[RefuelDone],
	KindStatusUpdate:   decodeAs[StatusUpdate],
	KindTrafficUpdate:  decodeAs[TrafficUpdate],
	KindDemandSurge:    decodeAs[DemandSurge],
	KindVehicleFound:   decodeAs[VehicleFound],
}
