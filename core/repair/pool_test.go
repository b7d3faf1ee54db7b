package repair

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/infra/local"
	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/internal/agenttest"
)

func newTestPool(t *testing.T, out *agenttest.Recorder) *Pool {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	t.Cleanup(func() { ResetMetrics(nil) })
	p, err := NewPool(Config{Mechanics: 2, Duration: 5 * time.Second}, out, clock.NewScaled(25), nil, logger.NopLogger{})
	require.NoError(t, err)
	return p
}

func TestAtMostTwoConcurrentRepairs(t *testing.T) {
	out := &agenttest.Recorder{}
	p := newTestPool(t, out)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"bus_1", "bus_2", "bus_3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Serve(ctx, Job{VehicleID: id, Location: "South", Issue: model.IssueEngineFail, ReplyTo: model.VehicleAgentID(id)}))
		}()
	}

	// Repairs take 200ms of wall time. Partway through the first round two
	// jobs hold slots and nothing has completed.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, p.InService())
	assert.Empty(t, out.Sent())

	wg.Wait()
	assert.Equal(t, 2, p.Peak())
	assert.Equal(t, 0, p.InService())
	assert.Len(t, out.Of(message.KindRepairDone), 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(repairsTotal.WithLabelValues("engine_fail")))
}

func TestThirdJobStartsAfterFirstFinishes(t *testing.T) {
	out := &agenttest.Recorder{}
	p := newTestPool(t, out)
	ctx := context.Background()

	start := time.Now()
	var (
		mu   sync.Mutex
		ends = map[string]time.Duration{}
		wg   sync.WaitGroup
	)
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Serve(ctx, Job{VehicleID: id, Issue: model.IssueEngineFail, ReplyTo: id}))
			mu.Lock()
			ends[id] = time.Since(start)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var last time.Duration
	for _, d := range ends {
		if d > last {
			last = d
		}
	}
	assert.GreaterOrEqual(t, last, 400*time.Millisecond, "third repair must wait for a slot")
}

func TestFuelIssueReportsRefueled(t *testing.T) {
	out := &agenttest.Recorder{}
	p := newTestPool(t, out)
	require.NoError(t, p.Serve(context.Background(), Job{VehicleID: "bus_1", Issue: model.IssueNoFuel, ReplyTo: "vehicle/bus_1"}))
	require.NoError(t, p.Serve(context.Background(), Job{VehicleID: "bus_2", Issue: model.IssueEngineFail, ReplyTo: "vehicle/bus_2"}))

	sent := out.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, message.RepairDone{Status: message.StatusRepaired, Refueled: true}, sent[0].Payload)
	assert.Equal(t, "vehicle/bus_1", sent[0].Recipient)
	assert.Equal(t, message.RepairDone{Status: message.StatusRepaired, Refueled: false}, sent[1].Payload)
}

func TestServeCancelledWhileWaiting(t *testing.T) {
	out := &agenttest.Recorder{}
	p, err := NewPool(Config{Mechanics: 1, Duration: time.Hour}, out, clock.Real(), nil, logger.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Serve(ctx, Job{VehicleID: "hog", ReplyTo: "hog"}) }()
	require.Eventually(t, func() bool { return p.InService() == 1 }, time.Second, time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Serve(ctx, Job{VehicleID: "waiting", ReplyTo: "waiting"}) }()
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiting job not released by cancellation")
	}
	assert.Empty(t, out.Sent())
}

func TestRunServesAlertsFromInbox(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	t.Cleanup(func() { ResetMetrics(nil) })

	tr := local.New(nil)
	defer func() { _ = tr.Close() }()
	in, err := tr.Register(model.RepairPoolID)
	require.NoError(t, err)
	vin, err := tr.Register("vehicle/bus_1")
	require.NoError(t, err)

	p, err := NewPool(Config{Duration: time.Second}, tr, clock.NewScaled(100), nil, logger.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, in) }()

	alert := message.New("vehicle/bus_1", model.RepairPoolID, message.Request,
		message.BreakdownAlert{VehicleID: "bus_1", Location: "Airport", Issue: model.IssueNoFuel})
	require.NoError(t, tr.Send(ctx, alert))

	select {
	case env := <-vin.Messages():
		assert.Equal(t, model.RepairPoolID, env.Sender)
		assert.Equal(t, message.RepairDone{Status: message.StatusRepaired, Refueled: true}, env.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no repair completion")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, 2, c.Mechanics)
	assert.Equal(t, 5*time.Second, c.Duration)
	assert.Error(t, Config{Mechanics: -1}.Validate())
}
