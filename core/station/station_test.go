package station

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/negotiation"
	"github.com/kilianp07/transitsim/core/roadnet"
	"github.com/kilianp07/transitsim/core/vehicle"
	"github.com/kilianp07/transitsim/infra/local"
	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/internal/agenttest"
)

var vehicles = []string{"vehicle/bus_1", "vehicle/bus_2"}

func newStation(t *testing.T, out *agenttest.Recorder, sink *agenttest.Sink) *Station {
	t.Helper()
	// 10s negotiation window at 20x is 500ms of wall time.
	st, err := New("Central", vehicles, Config{}, negotiation.Config{}, Deps{
		Out:   out,
		Clock: clock.NewScaled(20),
		Sink:  sink,
		Log:   logger.NopLogger{},
	})
	require.NoError(t, err)
	seq := 0
	st.newID = func() string { seq++; return fmt.Sprintf("sess-%d", seq) }
	return st
}

func waitOutcome(t *testing.T, ch <-chan negotiation.Outcome) negotiation.Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(3 * time.Second):
		t.Fatal("no outcome")
		return negotiation.Outcome{}
	}
}

func TestRequestNegotiatesAndAwards(t *testing.T) {
	out := &agenttest.Recorder{}
	st := newStation(t, out, &agenttest.Sink{})
	outcomes := st.Outcomes()
	ctx := context.Background()

	st.Handle(ctx, message.New("passenger/p1", st.ID(), message.Request, message.TravelRequest{Destination: "Airport"}))
	assert.Equal(t, []string{"passenger/p1"}, st.Queue())

	require.True(t, out.WaitFor(2, time.Second))
	cfps := out.Of(message.KindRideRequest)
	require.Len(t, cfps, 2)
	assert.Equal(t, message.RideRequest{Origin: "Central", Destination: "Airport", PassengerCount: 1}, cfps[0].Payload)
	sid := cfps[0].ConversationID

	st.Handle(ctx, message.New("vehicle/bus_2", st.ID(), message.Propose, message.Bid{VehicleID: "bus_2", ETA: 6}).WithConversation(sid))
	st.Handle(ctx, message.New("vehicle/bus_1", st.ID(), message.Refuse, message.Refusal{Reason: model.ReasonLowFuel}).WithConversation(sid))

	res := waitOutcome(t, outcomes)
	assert.Equal(t, negotiation.Awarded, res.State)
	assert.Equal(t, "bus_2", res.Winner)
	assert.Equal(t, 1, res.Refusals)
	assert.Empty(t, st.Queue())

	found := out.To("passenger/p1")
	require.Len(t, found, 1)
	assert.Equal(t, message.VehicleFound{Status: message.StatusVehicleFound, ETA: 6}, found[0].Payload)
}

func TestDuplicateRequestIgnoredWhileActive(t *testing.T) {
	out := &agenttest.Recorder{}
	st := newStation(t, out, &agenttest.Sink{})
	outcomes := st.Outcomes()
	ctx := context.Background()

	req := message.New("passenger/p1", st.ID(), message.Request, message.TravelRequest{Destination: "North"})
	st.Handle(ctx, req)
	st.Handle(ctx, req)

	res := waitOutcome(t, outcomes)
	assert.Equal(t, negotiation.Failed, res.State)
	assert.Len(t, out.Of(message.KindRideRequest), 2, "one cfp per vehicle, once")
	assert.Len(t, out.To("passenger/p1"), 1)
}

func TestCancelBeforeDecisionIsSilent(t *testing.T) {
	out := &agenttest.Recorder{}
	st := newStation(t, out, &agenttest.Sink{})
	outcomes := st.Outcomes()
	ctx := context.Background()

	st.Handle(ctx, message.New("passenger/p9", st.ID(), message.Request, message.TravelRequest{Destination: "West"}))
	require.True(t, out.WaitFor(2, time.Second))
	sid := out.Of(message.KindRideRequest)[0].ConversationID
	st.Handle(ctx, message.New("vehicle/bus_1", st.ID(), message.Propose, message.Bid{VehicleID: "bus_1", ETA: 3}).WithConversation(sid))
	st.Handle(ctx, message.New("passenger/p9", st.ID(), message.Cancel, message.CancelRequest{}))
	assert.Empty(t, st.Queue())

	res := waitOutcome(t, outcomes)
	assert.Equal(t, negotiation.Failed, res.State)
	assert.True(t, res.Cancelled)
	assert.Empty(t, out.To("passenger/p9"))
	assert.Empty(t, out.Of(message.KindAward))
}

func TestLateBidRejectedAsExpired(t *testing.T) {
	out := &agenttest.Recorder{}
	st := newStation(t, out, &agenttest.Sink{})
	outcomes := st.Outcomes()
	ctx := context.Background()

	st.Handle(ctx, message.New("passenger/p1", st.ID(), message.Request, message.TravelRequest{Destination: "North"}))
	require.True(t, out.WaitFor(2, time.Second))
	sid := out.Of(message.KindRideRequest)[0].ConversationID
	require.Equal(t, negotiation.Failed, waitOutcome(t, outcomes).State)

	for _, conv := range []string{sid, "never-opened"} {
		out.Reset()
		st.Handle(ctx, message.New("vehicle/bus_2", st.ID(), message.Propose, message.Bid{VehicleID: "bus_2", ETA: 5}).WithConversation(conv))
		rejects := out.To("vehicle/bus_2")
		require.Len(t, rejects, 1, conv)
		assert.Equal(t, message.RejectProposal, rejects[0].Performative)
		assert.Equal(t, conv, rejects[0].ConversationID)
		assert.Equal(t, message.Refusal{Reason: model.ReasonRequestExpired}, rejects[0].Payload)
	}
}

func TestLateBidReleasesVehiclePendingEntry(t *testing.T) {
	out := &agenttest.Recorder{}
	st := newStation(t, out, &agenttest.Sink{})
	outcomes := st.Outcomes()
	ctx := context.Background()

	busOut := &agenttest.Recorder{}
	bus, err := vehicle.New(model.VehicleSpec{ID: "bus_1", Class: model.ClassBus, Capacity: 4, Start: "Central"},
		roadnet.SampleCity(), []string{model.DefaultDepotID}, vehicle.DefaultConfig(), vehicle.Deps{
			Out:   busOut,
			Clock: clock.NewScaled(20),
			Log:   logger.NopLogger{},
		})
	require.NoError(t, err)

	st.Handle(ctx, message.New("passenger/p1", st.ID(), message.Request, message.TravelRequest{Destination: "North"}))
	require.True(t, out.WaitFor(2, time.Second))
	cfps := out.To(bus.ID())
	require.Len(t, cfps, 1)

	// the bid is made in time but only reaches the station after the decision
	bus.Handle(ctx, cfps[0])
	bids := busOut.To(st.ID())
	require.Len(t, bids, 1)
	require.Equal(t, message.Propose, bids[0].Performative)
	require.Equal(t, 1, bus.Snapshot().Pending)
	require.Equal(t, negotiation.Failed, waitOutcome(t, outcomes).State)

	out.Reset()
	st.Handle(ctx, bids[0])
	replies := out.To(bus.ID())
	require.Len(t, replies, 1)
	bus.Handle(ctx, replies[0])
	assert.Zero(t, bus.Snapshot().Pending)
}

func TestLateCapacityRefusalRecorded(t *testing.T) {
	sink := &agenttest.Sink{}
	st := newStation(t, &agenttest.Recorder{}, sink)
	st.Handle(context.Background(), message.New("vehicle/bus_1", st.ID(), message.Refuse,
		message.Refusal{Reason: model.ReasonCapacityFullError}).WithConversation("finished"))
	assert.Equal(t, []metrics.Kind{metrics.KindAwardRefused}, sink.Kinds())
}

func TestSurgeAboveThreshold(t *testing.T) {
	out := &agenttest.Recorder{}
	st := newStation(t, out, &agenttest.Sink{})
	st.queue = []string{"p1", "p2"}
	st.BroadcastSurge(context.Background())
	assert.Empty(t, out.Sent(), "threshold is exclusive")

	before := testutil.ToFloat64(surgesTotal.WithLabelValues("Central"))
	st.queue = append(st.queue, "p3")
	st.BroadcastSurge(context.Background())
	surges := out.Of(message.KindDemandSurge)
	require.Len(t, surges, len(vehicles))
	for i, env := range surges {
		assert.Equal(t, vehicles[i], env.Recipient)
		assert.Equal(t, message.DemandSurge{Station: "Central", Count: 3}, env.Payload)
	}
	assert.Equal(t, before+1, testutil.ToFloat64(surgesTotal.WithLabelValues("Central")))
}

func TestRunOverLocalTransport(t *testing.T) {
	tr := local.New(nil)
	defer func() { _ = tr.Close() }()
	in, err := tr.Register(model.StationAgentID("South"))
	require.NoError(t, err)
	pin, err := tr.Register("passenger/p1")
	require.NoError(t, err)

	st, err := New("South", nil, Config{}, negotiation.Config{Window: time.Second}, Deps{
		Out: tr, Clock: clock.NewScaled(100), Log: logger.NopLogger{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx, in) }()

	require.NoError(t, tr.Send(ctx, message.New("passenger/p1", st.ID(), message.Request, message.TravelRequest{Destination: "Airport"})))
	select {
	case env := <-pin.Messages():
		assert.Equal(t, message.Refusal{Reason: model.ReasonNoVehicles}, env.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("passenger not notified")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestConfigValidation(t *testing.T) {
	c := Config{}
	c.SetDefaults()
	assert.Equal(t, 30*time.Second, c.SurgeInterval)
	assert.Equal(t, 2, c.SurgeThreshold)
	assert.Error(t, Config{SurgeInterval: -1}.Validate())
	_, err := New("", nil, Config{}, negotiation.Config{}, Deps{})
	assert.Error(t, err)
}
