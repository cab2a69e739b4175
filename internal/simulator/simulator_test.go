package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/fundamentals"
	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/prng"
	"github.com/zappabad/marketsim/internal/session"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// scripted submits a fixed batch per step and records every notification.
type scripted struct {
	agent.Base
	plan map[int64]agent.Batch

	submitted       []market.Order
	canceled        []market.Canceled
	executed        []market.Execution
	rejectedOrders  []error
	rejectedCancels []error
	asked           []int64
}

func (a *scripted) SubmitOrders(step int64, _ agent.Markets) agent.Batch {
	a.asked = append(a.asked, step)
	return a.plan[step]
}

func (a *scripted) SubmittedOrder(o market.Order)    { a.submitted = append(a.submitted, o) }
func (a *scripted) CanceledOrder(c market.Canceled)  { a.canceled = append(a.canceled, c) }
func (a *scripted) ExecutedOrder(x market.Execution) { a.executed = append(a.executed, x) }

func (a *scripted) RejectedOrder(_ market.Order, err error) {
	a.rejectedOrders = append(a.rejectedOrders, err)
}

func (a *scripted) RejectedCancel(_ market.Cancel, err error) {
	a.rejectedCancels = append(a.rejectedCancels, err)
}

func newScripted(t *testing.T, id market.AgentID, hf bool, plan map[int64]agent.Batch, accessible ...market.ID) *scripted {
	t.Helper()
	if len(accessible) == 0 {
		accessible = []market.ID{0}
	}
	a := &scripted{plan: plan}
	require.NoError(t, a.Setup(settings.Settings{
		"cashAmount":    10000,
		"assetVolume":   50,
		"highFrequency": hf,
	}, agent.Env{ID: id, Name: fmt.Sprintf("agent-%d", id), PRNG: prng.Derive(7, prng.LabelAgent, int(id)), Accessible: accessible}))
	return a
}

func steps(n int64) session.Config {
	return session.Config{
		IterationSteps:          n,
		WithOrderPlacement:      true,
		WithOrderExecution:      true,
		WithPrint:               true,
		MaxNormalOrders:         0,
		MaxHighFrequencyOrders:  1,
		HighFrequencySubmitRate: 1,
	}
}

type fixture struct {
	sim *Simulator
	rec *logs.Recorder
}

func newFixture(t *testing.T, markets int, cfgs ...session.Config) fixture {
	t.Helper()
	rec := &logs.Recorder{}
	sim := New(Config{Seed: 42, RunID: "test", Sink: logs.NewDirect(rec)}, nil)
	for i := 0; i < markets; i++ {
		cfg := market.DefaultConfig()
		cfg.FundamentalPrice = 100
		m, err := market.New(market.ID(i), fmt.Sprintf("m%d", i), cfg, nil)
		require.NoError(t, err)
		require.NoError(t, sim.AddMarket(m))
		require.NoError(t, sim.Fundamentals().AddMarket(m.ID(), fundamentals.Params{Initial: 100}))
	}
	plan, err := session.Plan(cfgs)
	require.NoError(t, err)
	for _, s := range plan {
		require.NoError(t, sim.AddSession(s))
	}
	return fixture{sim: sim, rec: rec}
}

func (f fixture) venue(id market.ID) *market.Market {
	return f.sim.markets[id].(*market.Market)
}

func recordsOf[T logs.Record](rec *logs.Recorder) []T {
	var out []T
	for _, r := range rec.Records {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestLimitThenMarketScenario(t *testing.T) {
	f := newFixture(t, 1, steps(3))
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		1: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 100, 10, 100)}},
	})
	b := newScripted(t, 1, false, map[int64]agent.Batch{
		2: {Orders: []market.Order{market.NewMarketOrder(1, 0, false, 10)}},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.AddAgent(b))

	require.NoError(t, f.sim.Run(context.Background()))

	execs := recordsOf[logs.ExecutionLog](f.rec)
	require.Len(t, execs, 1)
	assert.Equal(t, int64(2), execs[0].Step)
	assert.Equal(t, 100.0, execs[0].Price)
	assert.Equal(t, int64(10), execs[0].Volume)
	assert.Equal(t, market.AgentID(0), execs[0].BuyAgentID)
	assert.Equal(t, market.AgentID(1), execs[0].SellAgentID)

	assert.Equal(t, int64(60), a.AssetVolume(0))
	assert.Equal(t, int64(40), b.AssetVolume(0))
	assert.Equal(t, 9000.0, a.CashAmount())
	assert.Equal(t, 11000.0, b.CashAmount())

	snap := f.venue(0).Snapshot()
	assert.Empty(t, snap.Buy)
	assert.Empty(t, snap.Sell)
	assert.Len(t, a.executed, 1)
	assert.Len(t, b.executed, 1)
	assert.Equal(t, Finished, f.sim.State())
}

func TestExpiryScenario(t *testing.T) {
	f := newFixture(t, 1, steps(10))
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		5: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 90, 1, 3)}},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.Run(context.Background()))

	cancels := recordsOf[logs.CancelLog](f.rec)
	require.Len(t, cancels, 1)
	assert.Equal(t, int64(8), cancels[0].CancelStep)
	assert.Equal(t, market.ReasonExpiry, cancels[0].Reason)
	assert.Equal(t, int64(5), cancels[0].OrderStep)
	assert.Equal(t, int64(3), cancels[0].TTL)
	require.Len(t, a.canceled, 1)
	assert.Equal(t, f.sim.Stats().Expired, int64(1))
}

func TestRecordSequence(t *testing.T) {
	f := newFixture(t, 1, steps(1), steps(1))
	require.NoError(t, f.sim.AddAgent(newScripted(t, 0, false, map[int64]agent.Batch{
		0: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 90, 1, 10)}},
	})))
	require.NoError(t, f.sim.Run(context.Background()))

	assert.Equal(t, []string{
		"simulation_begin",
		"session_begin", "market_step_begin", "order", "market_step_end", "session_end",
		"session_begin", "market_step_begin", "market_step_end", "session_end",
		"simulation_end",
	}, f.rec.Kinds())

	start := recordsOf[logs.SimulationBeginLog](f.rec)
	end := recordsOf[logs.SimulationEndLog](f.rec)
	require.Len(t, start, 1)
	require.Len(t, end, 1)
	assert.Equal(t, int64(0), start[0].Step)
	assert.Equal(t, f.sim.TotalSteps(), end[0].Step)
	assert.Equal(t, int64(2), end[0].Step)

	begins := recordsOf[logs.MarketStepBeginLog](f.rec)
	require.Len(t, begins, 2)
	for i, b := range begins {
		assert.Equal(t, i, b.SessionID)
		assert.Equal(t, int64(i), b.Step)
		assert.Equal(t, 100.0, b.MarketPrice)
		assert.True(t, math.IsNaN(b.MidPrice))
		assert.True(t, math.IsNaN(b.LastPrice))
	}
}

func TestCancelsBeforeOrders(t *testing.T) {
	f := newFixture(t, 1, steps(4))
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		1: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 90, 1, 100)}},
		2: {
			Cancels: []market.Cancel{{OrderID: 1, MarketID: 0, AgentID: 0}},
			Orders:  []market.Order{market.NewLimitOrder(0, 0, true, 91, 1, 100)},
		},
		// order 3 is created by this very batch, so the cancel cannot see it
		3: {
			Cancels: []market.Cancel{{OrderID: 3, MarketID: 0, AgentID: 0}},
			Orders:  []market.Order{market.NewLimitOrder(0, 0, true, 92, 1, 100)},
		},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.Run(context.Background()))

	require.Len(t, a.canceled, 1)
	assert.Equal(t, market.OrderID(1), a.canceled[0].OrderID)
	assert.Equal(t, market.ReasonAgent, a.canceled[0].Reason)

	require.Len(t, a.rejectedCancels, 1)
	assert.ErrorIs(t, a.rejectedCancels[0], simerr.ErrCancelInvalid)

	var ids []market.OrderID
	for _, o := range f.venue(0).RestingOrdersOf(0) {
		ids = append(ids, o.OrderID)
	}
	assert.ElementsMatch(t, []market.OrderID{2, 3}, ids)
}

func TestRejectedOrdersLeaveNoTrace(t *testing.T) {
	f := newFixture(t, 2, steps(2))
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		0: {Orders: []market.Order{
			market.NewLimitOrder(1, 0, true, 90, 1, 10), // on behalf of agent 1
			market.NewLimitOrder(0, 1, true, 90, 1, 10), // market 1 not accessible
			market.NewLimitOrder(0, 0, true, 90, 0, 10), // zero volume
			market.NewLimitOrder(0, 0, true, -1, 1, 10), // negative price
			market.NewLimitOrder(0, 9, true, 90, 1, 10), // unknown market
		}},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.AddAgent(newScripted(t, 1, false, nil)))

	before := f.venue(0).Snapshot()
	require.NoError(t, f.sim.Run(context.Background()))

	require.Len(t, a.rejectedOrders, 5)
	for _, err := range a.rejectedOrders {
		assert.ErrorIs(t, err, simerr.ErrOrderInvalid)
	}
	assert.Empty(t, recordsOf[logs.OrderLog](f.rec))
	assert.Empty(t, a.submitted)
	after := f.venue(0).Snapshot()
	assert.Equal(t, before.Buy, after.Buy)
	assert.Equal(t, before.Sell, after.Sell)
	assert.Equal(t, int64(5), f.sim.Stats().RejectedOrders)
}

func TestMaxNormalOrdersLimitsBatches(t *testing.T) {
	cfg := steps(1)
	cfg.MaxNormalOrders = 2
	f := newFixture(t, 1, cfg)
	var agents []*scripted
	for i := 0; i < 5; i++ {
		a := newScripted(t, market.AgentID(i), false, map[int64]agent.Batch{
			0: {Orders: []market.Order{market.NewLimitOrder(market.AgentID(i), 0, true, 90, 1, 10)}},
		})
		agents = append(agents, a)
		require.NoError(t, f.sim.AddAgent(a))
	}
	require.NoError(t, f.sim.Run(context.Background()))

	assert.Len(t, recordsOf[logs.OrderLog](f.rec), 2)
	asked := 0
	for _, a := range agents {
		asked += len(a.asked)
	}
	assert.Equal(t, 2, asked)
}

func TestHighFrequencyRoundFollowsEachBatch(t *testing.T) {
	cfg := steps(1)
	cfg.MaxNormalOrders = 2
	cfg.MaxHighFrequencyOrders = 1
	f := newFixture(t, 1, cfg)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.sim.AddAgent(newScripted(t, market.AgentID(i), false, map[int64]agent.Batch{
			0: {Orders: []market.Order{market.NewLimitOrder(market.AgentID(i), 0, true, 90, 1, 10)}},
		})))
	}
	hf := newScripted(t, 2, true, map[int64]agent.Batch{
		0: {Orders: []market.Order{market.NewLimitOrder(2, 0, false, 110, 1, 10)}},
	})
	require.NoError(t, f.sim.AddAgent(hf))
	require.NoError(t, f.sim.Run(context.Background()))

	orders := recordsOf[logs.OrderLog](f.rec)
	require.Len(t, orders, 4)
	assert.NotEqual(t, market.AgentID(2), orders[0].AgentID)
	assert.Equal(t, market.AgentID(2), orders[1].AgentID)
	assert.NotEqual(t, market.AgentID(2), orders[2].AgentID)
	assert.Equal(t, market.AgentID(2), orders[3].AgentID)
	assert.Len(t, hf.asked, 2)
}

func TestPlacementDisabled(t *testing.T) {
	cfg := steps(3)
	cfg.WithOrderPlacement = false
	f := newFixture(t, 1, cfg)
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		1: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 90, 1, 10)}},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.Run(context.Background()))
	assert.Empty(t, a.asked)
	assert.Empty(t, recordsOf[logs.OrderLog](f.rec))
}

func TestExecutionDisabledThenUncrossed(t *testing.T) {
	warmup := steps(2)
	warmup.WithOrderExecution = false
	f := newFixture(t, 1, warmup, steps(1))
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		0: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 101, 2, 100)}},
	})
	b := newScripted(t, 1, false, map[int64]agent.Batch{
		1: {Orders: []market.Order{
			market.NewLimitOrder(1, 0, false, 99, 2, 100),
			market.NewMarketOrder(1, 0, false, 1),
		}},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.AddAgent(b))
	require.NoError(t, f.sim.Run(context.Background()))

	// the market order is refused while execution is off
	require.Len(t, b.rejectedOrders, 1)

	execs := recordsOf[logs.ExecutionLog](f.rec)
	require.Len(t, execs, 1)
	assert.Equal(t, int64(2), execs[0].Step)
	assert.Equal(t, 101.0, execs[0].Price)
	assert.Equal(t, int64(52), a.AssetVolume(0))
	assert.Equal(t, 10000.0-202, a.CashAmount())
}

func TestConservation(t *testing.T) {
	f := newFixture(t, 1, steps(6))
	plans := []map[int64]agent.Batch{
		{1: {Orders: []market.Order{market.NewLimitOrder(0, 0, true, 101, 5, 100)}}},
		{2: {Orders: []market.Order{market.NewLimitOrder(1, 0, false, 100, 3, 100)}}},
		{3: {Orders: []market.Order{market.NewMarketOrder(2, 0, false, 4)}}, 4: {Orders: []market.Order{market.NewMarketOrder(2, 0, true, 1)}}},
	}
	var cash0 float64
	var assets0 int64
	var agents []*scripted
	for i, p := range plans {
		a := newScripted(t, market.AgentID(i), false, p)
		agents = append(agents, a)
		cash0 += a.CashAmount()
		assets0 += a.AssetVolume(0)
		require.NoError(t, f.sim.AddAgent(a))
	}
	require.NoError(t, f.sim.Run(context.Background()))
	require.NotZero(t, f.sim.Stats().Executions)

	var cash float64
	var assets int64
	for _, a := range agents {
		cash += a.CashAmount()
		assets += a.AssetVolume(0)
	}
	assert.InDelta(t, cash0, cash, 1e-9)
	assert.Equal(t, assets0, assets)
}

// scriptedEvent returns fixed effects at before-step of one step.
type scriptedEvent struct {
	step    int64
	effects []event.Effect
	err     error
}

func (e *scriptedEvent) Name() string                             { return "scripted" }
func (e *scriptedEvent) Setup(settings.Settings, event.Env) error { return nil }

func (e *scriptedEvent) Hooks() []event.Hook {
	return []event.Hook{{Point: event.BeforeStep, Markets: []market.ID{0}, Steps: []int64{e.step}}}
}

func (e *scriptedEvent) OnBeforeStep(*event.Context) ([]event.Effect, error) { return e.effects, e.err }

func TestEventEffects(t *testing.T) {
	f := newFixture(t, 1, steps(4))
	a := newScripted(t, 0, false, map[int64]agent.Batch{
		2: {Orders: []market.Order{market.NewMarketOrder(0, 0, true, 1)}},
	})
	require.NoError(t, f.sim.AddAgent(a))
	require.NoError(t, f.sim.AddAgent(newScripted(t, 1, false, nil)))
	require.NoError(t, f.sim.AddEvent(0, &scriptedEvent{step: 2, effects: []event.Effect{
		event.ScaleFundamental{Market: 0, Scale: 0.5},
		event.SetMarketRunning{Market: 0, Running: false},
		event.InjectOrder{Order: market.NewLimitOrder(1, 0, false, 120, 1, 100)},
	}}))
	require.NoError(t, f.sim.Run(context.Background()))

	ends := recordsOf[logs.MarketStepEndLog](f.rec)
	require.Len(t, ends, 4)
	assert.Equal(t, 100.0, ends[1].FundamentalPrice)
	assert.Equal(t, 50.0, ends[2].FundamentalPrice)
	assert.Equal(t, 50.0, ends[3].FundamentalPrice)
	assert.False(t, ends[2].Running)

	orders := recordsOf[logs.OrderLog](f.rec)
	require.Len(t, orders, 1)
	assert.Equal(t, market.AgentID(1), orders[0].AgentID)
	assert.Equal(t, int64(2), orders[0].Step)
	assert.Equal(t, int64(1), f.sim.Stats().InjectedOrders)

	// the halted market refuses the market order
	require.Len(t, a.rejectedOrders, 1)
}

func TestEventErrorAbortsRun(t *testing.T) {
	f := newFixture(t, 1, steps(4))
	require.NoError(t, f.sim.AddAgent(newScripted(t, 0, false, nil)))
	boom := errors.New("boom")
	require.NoError(t, f.sim.AddEvent(0, &scriptedEvent{step: 1, err: boom}))

	err := f.sim.Run(context.Background())
	assert.ErrorIs(t, err, simerr.ErrEventDispatch)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, recordsOf[logs.MarketStepEndLog](f.rec), 1)
}

func TestInvalidEffectAbortsRun(t *testing.T) {
	f := newFixture(t, 1, steps(2))
	require.NoError(t, f.sim.AddAgent(newScripted(t, 0, false, nil)))
	require.NoError(t, f.sim.AddEvent(0, &scriptedEvent{step: 0, effects: []event.Effect{
		event.ScaleFundamental{Market: 0, Scale: -1},
	}}))
	err := f.sim.Run(context.Background())
	assert.ErrorIs(t, err, simerr.ErrEventDispatch)
}

func TestConfigurationChecks(t *testing.T) {
	sim := New(Config{}, nil)
	assert.ErrorIs(t, sim.Run(context.Background()), simerr.ErrConfiguration)

	cfg := market.DefaultConfig()
	cfg.FundamentalPrice = 100
	m, err := market.New(1, "m", cfg, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, sim.AddMarket(m), simerr.ErrConfiguration)

	m0, err := market.New(0, "m", cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sim.AddMarket(m0))
	s, err := session.New(0, steps(1), 0)
	require.NoError(t, err)
	require.NoError(t, sim.AddSession(s))
	// no fundamental process for m
	assert.ErrorIs(t, sim.Run(context.Background()), simerr.ErrConfiguration)

	late, err := session.New(1, steps(1), 5)
	require.NoError(t, err)
	assert.ErrorIs(t, sim.AddSession(late), simerr.ErrScheduling)
	assert.ErrorIs(t, sim.AddEvent(9, &scriptedEvent{}), simerr.ErrConfiguration)
}

func TestRunTwiceIsRejected(t *testing.T) {
	f := newFixture(t, 1, steps(1))
	require.NoError(t, f.sim.Run(context.Background()))
	assert.ErrorIs(t, f.sim.Run(context.Background()), simerr.ErrScheduling)
	assert.ErrorIs(t, f.sim.AddAgent(newScripted(t, 0, false, nil)), simerr.ErrScheduling)
}

func TestIndexMarketFollowsComponents(t *testing.T) {
	rec := &logs.Recorder{}
	sim := New(Config{Seed: 1, Sink: logs.NewDirect(rec)}, nil)
	var comps []*market.Market
	for i, p := range []float64{100, 300} {
		cfg := market.DefaultConfig()
		cfg.FundamentalPrice = p
		cfg.OutstandingShares = 1
		m, err := market.New(market.ID(i), fmt.Sprintf("c%d", i), cfg, nil)
		require.NoError(t, err)
		require.NoError(t, sim.AddMarket(m))
		require.NoError(t, sim.Fundamentals().AddMarket(m.ID(), fundamentals.Params{Initial: p}))
		comps = append(comps, m)
	}
	idx, err := market.NewIndex(2, "idx", market.DefaultConfig(), comps, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sim.AddMarket(idx))
	s, err := session.New(0, steps(2), 0)
	require.NoError(t, err)
	require.NoError(t, sim.AddSession(s))
	require.NoError(t, sim.Run(context.Background()))

	for _, l := range recordsOf[logs.MarketStepEndLog](rec) {
		if l.MarketID == 2 {
			assert.Equal(t, 200.0, l.MarketPrice)
			assert.Equal(t, 200.0, l.FundamentalPrice)
		}
	}
}
