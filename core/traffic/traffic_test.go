package traffic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/internal/agenttest"
)

func TestBroadcastReachesEveryVehicle(t *testing.T) {
	out := &agenttest.Recorder{}
	ch := NewChannel([]string{"vehicle/bus_1", "vehicle/tram_1"}, out, logger.NopLogger{})

	require.NoError(t, ch.Broadcast(context.Background(), "Central", "North", 42))

	sent := out.Of(message.KindTrafficUpdate)
	require.Len(t, sent, 2)
	for _, env := range sent {
		assert.Equal(t, SenderID, env.Sender)
		assert.Equal(t, message.Inform, env.Performative)
		assert.Equal(t, message.TrafficUpdate{Edge: [2]string{"Central", "North"}, NewWeight: 42}, env.Payload)
	}
	assert.Equal(t, "vehicle/bus_1", sent[0].Recipient)
	assert.Equal(t, "vehicle/tram_1", sent[1].Recipient)
}

func TestBroadcastRejectsNegativeWeight(t *testing.T) {
	out := &agenttest.Recorder{}
	ch := NewChannel([]string{"vehicle/bus_1"}, out, logger.NopLogger{})
	assert.Error(t, ch.Broadcast(context.Background(), "Central", "North", -1))
	assert.Empty(t, out.Sent())
}

func TestBroadcastTriesAllRecipients(t *testing.T) {
	out := &agenttest.Recorder{Err: errors.New("down")}
	ch := NewChannel([]string{"a", "b"}, out, logger.NopLogger{})
	err := ch.Broadcast(context.Background(), "Central", "North", 10)
	assert.Error(t, err)
	assert.Len(t, out.Sent(), 2)
}

func TestGeneratorDrawsWithinRange(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGenerator(cfg, nil, clock.Real(), logger.NopLogger{})
	edges := map[[2]string]bool{}
	for _, e := range cfg.Edges {
		edges[e] = true
	}
	var jams, normal int
	for i := 0; i < 500; i++ {
		up := g.Next()
		assert.True(t, edges[up.Edge], "unexpected edge %v", up.Edge)
		if up.NewWeight == cfg.NormalWeight {
			normal++
			continue
		}
		jams++
		assert.GreaterOrEqual(t, up.NewWeight, float64(cfg.JamMin))
		assert.LessOrEqual(t, up.NewWeight, float64(cfg.JamMax))
	}
	assert.Greater(t, jams, normal)
	assert.NotZero(t, normal)
}

func TestGeneratorIsDeterministicPerSeed(t *testing.T) {
	a := NewGenerator(DefaultConfig(), nil, clock.Real(), logger.NopLogger{})
	b := NewGenerator(DefaultConfig(), nil, clock.Real(), logger.NopLogger{})
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestGeneratorRunBroadcasts(t *testing.T) {
	cfg := DefaultConfig()
	out := &agenttest.Recorder{}
	ch := NewChannel([]string{"vehicle/bus_1"}, out, logger.NopLogger{})
	// 15s at 1000x is 15ms
	g := NewGenerator(cfg, ch, clock.NewScaled(1000), logger.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { g.Run(ctx); close(done) }()

	assert.True(t, out.WaitFor(2, 2*time.Second))
	cancel()
	<-done
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.JamMax = 10
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Enabled = true
	cfg.Edges = nil
	assert.Error(t, cfg.Validate())
}
