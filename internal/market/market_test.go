package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zappabad/marketsim/internal/simerr"
)

func newTestMarket(t *testing.T, tick float64) *Market {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TickSize = tick
	cfg.FundamentalPrice = 100
	m, err := New(0, "spot", cfg, nil)
	require.NoError(t, err)
	return m
}

func endStep(t *testing.T, v Venue) []Canceled {
	t.Helper()
	out, err := v.EndStep()
	require.NoError(t, err)
	return out
}

func TestLimitThenMarketScenario(t *testing.T) {
	m := newTestMarket(t, 1)
	require.NoError(t, m.BeginStep(0, 100))
	require.NoError(t, m.BeginStep(1, 100))

	rep, err := m.Submit(NewLimitOrder(1, 0, true, 100, 10, GoodTillCancel))
	require.NoError(t, err)
	assert.True(t, rep.Rested)
	assert.Empty(t, rep.Executions)
	assert.Equal(t, int64(1), rep.Order.PlacedAt)
	assert.NotZero(t, rep.Order.ID)

	require.NoError(t, m.BeginStep(2, 100))
	rep, err = m.Submit(NewMarketOrder(2, 0, false, 10))
	require.NoError(t, err)
	require.Len(t, rep.Executions, 1)
	x := rep.Executions[0]
	assert.Equal(t, 100.0, x.Price)
	assert.Equal(t, int64(10), x.Volume)
	assert.Equal(t, int64(2), x.Step)
	assert.Equal(t, AgentID(1), x.BuyAgentID)
	assert.Equal(t, AgentID(2), x.SellAgentID)

	snap := m.Snapshot()
	assert.Empty(t, snap.Buy)
	assert.Empty(t, snap.Sell)
	assert.Equal(t, 100.0, m.MarketPrice())
	last, ok := m.LastExecutedPrice()
	require.True(t, ok)
	assert.Equal(t, 100.0, last)
}

func TestRejectionHasNoSideEffects(t *testing.T) {
	m := newTestMarket(t, 1)
	require.NoError(t, m.BeginStep(0, 100))
	_, err := m.Submit(NewLimitOrder(1, 0, true, 99, 5, GoodTillCancel))
	require.NoError(t, err)
	_, err = m.Submit(NewLimitOrder(2, 0, false, 101, 5, GoodTillCancel))
	require.NoError(t, err)

	before := m.Snapshot()
	buyBefore, sellBefore := m.OrderCounts()

	bad := []Order{
		NewLimitOrder(3, 0, true, 100, 0, 1),
		NewLimitOrder(3, 0, false, -1, 5, 1),
		NewLimitOrder(3, 0, true, math.NaN(), 5, 1),
		NewLimitOrder(3, 0, true, math.Inf(1), 5, 1),
		NewLimitOrder(3, 0, true, 100, 5, -1),
		NewLimitOrder(3, 7, true, 100, 5, 1),
		NewLimitOrder(3, 0, true, 0.5, 5, 1), // rounds down to tick 0
		NewLimitOrder(3, 0, true, 1e20, 5, 1),
		NewLimitOrder(3, 0, false, 3e19, 5, 1),
	}
	for _, o := range bad {
		_, err := m.Submit(o)
		require.Error(t, err, "%v", o)
		assert.ErrorIs(t, err, simerr.ErrOrderInvalid)
	}
	_, err = m.Submit(NewLimitOrder(3, 0, true, 1e20, 5, 1))
	var ov *simerr.OrderValidationError
	require.ErrorAs(t, err, &ov)
	assert.Equal(t, "limit price exceeds tick range", ov.Reason)

	assert.Equal(t, before, m.Snapshot())
	buyAfter, sellAfter := m.OrderCounts()
	assert.Equal(t, buyBefore, buyAfter)
	assert.Equal(t, sellBefore, sellAfter)
}

func TestTickRounding(t *testing.T) {
	m := newTestMarket(t, 0.5)
	require.NoError(t, m.BeginStep(0, 100))

	buy, err := m.Submit(NewLimitOrder(1, 0, true, 100.3, 1, GoodTillCancel))
	require.NoError(t, err)
	assert.Equal(t, 100.0, buy.Order.Price)

	sell, err := m.Submit(NewLimitOrder(2, 0, false, 101.2, 1, GoodTillCancel))
	require.NoError(t, err)
	assert.Equal(t, 101.5, sell.Order.Price)

	assert.Equal(t, int64(200), m.ToTicks(100, true))
	assert.Equal(t, int64(200), m.ToTicks(100, false))
	assert.Equal(t, int64(math.MaxInt64), m.ToTicks(1e30, true))
	mid, ok := m.MidPrice()
	require.True(t, ok)
	assert.Equal(t, 100.75, mid)
	assert.Equal(t, 100.75, m.MarketPrice())
}

func TestTTLExpiresExactly(t *testing.T) {
	m := newTestMarket(t, 1)
	for s := int64(0); s <= 4; s++ {
		require.NoError(t, m.BeginStep(s, 100))
		assert.Empty(t, endStep(t, m))
	}
	require.NoError(t, m.BeginStep(5, 100))
	rep, err := m.Submit(NewLimitOrder(1, 0, true, 90, 3, 3))
	require.NoError(t, err)
	assert.Empty(t, endStep(t, m))

	for s := int64(6); s <= 7; s++ {
		require.NoError(t, m.BeginStep(s, 100))
		assert.Empty(t, endStep(t, m), "step %d", s)
	}
	require.NoError(t, m.BeginStep(8, 100))
	expired := endStep(t, m)
	require.Len(t, expired, 1)
	assert.Equal(t, rep.Order.ID, expired[0].OrderID)
	assert.Equal(t, ReasonExpiry, expired[0].Reason)
	assert.Equal(t, int64(8), expired[0].Step)
	assert.Equal(t, int64(3), expired[0].Volume)
}

func TestCancelOwnership(t *testing.T) {
	m := newTestMarket(t, 1)
	require.NoError(t, m.BeginStep(0, 100))
	rep, err := m.Submit(NewLimitOrder(1, 0, true, 95, 4, GoodTillCancel))
	require.NoError(t, err)

	_, err = m.Cancel(Cancel{OrderID: rep.Order.ID, MarketID: 0, AgentID: 2})
	assert.ErrorIs(t, err, simerr.ErrCancelInvalid)

	c, err := m.Cancel(NewCancel(rep.Order))
	require.NoError(t, err)
	assert.Equal(t, ReasonAgent, c.Reason)
	assert.Equal(t, int64(4), c.Volume)
	assert.Equal(t, 95.0, c.Price)

	_, err = m.Cancel(NewCancel(rep.Order))
	assert.ErrorIs(t, err, simerr.ErrCancelInvalid)
}

func TestExecutionDisabledRestsThenUncrosses(t *testing.T) {
	m := newTestMarket(t, 1)
	m.SetExecution(false)
	require.NoError(t, m.BeginStep(0, 100))

	_, err := m.Submit(NewMarketOrder(1, 0, true, 1))
	assert.ErrorIs(t, err, simerr.ErrOrderInvalid)

	_, err = m.Submit(NewLimitOrder(1, 0, false, 98, 5, GoodTillCancel))
	require.NoError(t, err)
	rep, err := m.Submit(NewLimitOrder(2, 0, true, 102, 5, GoodTillCancel))
	require.NoError(t, err)
	assert.True(t, rep.Rested)
	assert.Empty(t, m.StepMatch())
	assert.Equal(t, 100.0, m.MarketPrice(), "price frozen while execution is off")

	m.SetExecution(true)
	require.NoError(t, m.BeginStep(1, 100))
	execs := m.StepMatch()
	require.Len(t, execs, 1)
	assert.Equal(t, 98.0, execs[0].Price, "earlier order sets the price")
	assert.Equal(t, 98.0, m.MarketPrice())
}

func TestHaltRejectsMarketOrders(t *testing.T) {
	m := newTestMarket(t, 1)
	require.NoError(t, m.BeginStep(0, 100))
	m.SetRunning(false)
	assert.True(t, m.IsHalted())
	assert.False(t, m.IsRunning())

	_, err := m.Submit(NewMarketOrder(1, 0, true, 1))
	assert.ErrorIs(t, err, simerr.ErrOrderInvalid)
	_, err = m.Submit(NewLimitOrder(1, 0, false, 99, 1, GoodTillCancel))
	require.NoError(t, err)
	_, err = m.Submit(NewLimitOrder(2, 0, true, 101, 1, GoodTillCancel))
	require.NoError(t, err)
	assert.Len(t, m.Snapshot().Buy, 1)
}

func TestPriceHistoryRefusesFuture(t *testing.T) {
	m := newTestMarket(t, 1)
	_, err := m.MarketPriceAt(0)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, m.BeginStep(0, 100))
	require.NoError(t, m.BeginStep(1, 101))
	_, err = m.MarketPriceAt(2)
	assert.ErrorIs(t, err, ErrFutureStep)
	f, err := m.FundamentalPriceAt(1)
	require.NoError(t, err)
	assert.Equal(t, 101.0, f)
	assert.Equal(t, []float64{100, 100}, m.MarketPrices())

	assert.Error(t, m.BeginStep(3, 100))
	assert.ErrorIs(t, m.BeginStep(1, 100), simerr.ErrScheduling)
}

func TestVWAPAndRecentExecutions(t *testing.T) {
	m := newTestMarket(t, 1)
	require.NoError(t, m.BeginStep(0, 100))
	assert.True(t, math.IsNaN(m.VWAP()))

	_, err := m.Submit(NewLimitOrder(1, 0, false, 100, 1, GoodTillCancel))
	require.NoError(t, err)
	_, err = m.Submit(NewLimitOrder(1, 0, false, 103, 3, GoodTillCancel))
	require.NoError(t, err)
	_, err = m.Submit(NewMarketOrder(2, 0, true, 4))
	require.NoError(t, err)

	assert.InDelta(t, (100.0+3*103.0)/4, m.VWAP(), 1e-9)
	assert.Equal(t, int64(4), m.ExecutedVolume())
	recent := m.RecentExecutions(5)
	require.Len(t, recent, 2)
	assert.Equal(t, 103.0, recent[1].Price)
	q := m.Quote()
	assert.True(t, q.HasLast)
	assert.False(t, q.AskOK)
}

func TestIndexMarket(t *testing.T) {
	seq := &Sequence{}
	mk := func(id ID, price float64, shares int64) *Market {
		cfg := DefaultConfig()
		cfg.FundamentalPrice = price
		cfg.OutstandingShares = shares
		m, err := New(id, "c", cfg, seq)
		require.NoError(t, err)
		return m
	}
	a, b := mk(0, 100, 3), mk(1, 200, 1)

	idx, err := NewIndex(2, "index", DefaultConfig(), []*Market{a, b}, nil, seq)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.75, 0.25}, idx.Weights())

	require.NoError(t, a.BeginStep(0, 100))
	require.NoError(t, b.BeginStep(0, 200))
	require.NoError(t, idx.BeginStep(0, 0))
	assert.Equal(t, 125.0, idx.MarketPrice())
	assert.Equal(t, 125.0, idx.FundamentalPrice())

	// a trades at 104; the index follows after the step
	_, err = a.Submit(NewLimitOrder(1, 0, false, 104, 1, GoodTillCancel))
	require.NoError(t, err)
	_, err = a.Submit(NewMarketOrder(2, 0, true, 1))
	require.NoError(t, err)
	assert.Nil(t, idx.StepMatch())
	endStep(t, idx)
	assert.Equal(t, 0.75*104+0.25*200, idx.MarketPrice())

	// an index that never began cannot price itself
	idle, err := NewIndex(4, "idle", DefaultConfig(), []*Market{a, b}, nil, seq)
	require.NoError(t, err)
	_, err = idle.EndStep()
	assert.ErrorIs(t, err, simerr.ErrScheduling)

	_, err = NewIndex(3, "bad", DefaultConfig(), []*Market{a, b}, []float64{1}, seq)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	_, err = NewIndex(3, "dup", DefaultConfig(), []*Market{a, a}, nil, seq)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	w, err := NewIndex(3, "explicit", DefaultConfig(), []*Market{a, b}, []float64{1, 3}, seq)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.75}, w.Weights())
}

func TestSharedSequenceOrdersIDs(t *testing.T) {
	seq := &Sequence{}
	cfg := DefaultConfig()
	cfg.FundamentalPrice = 10
	a, err := New(0, "a", cfg, seq)
	require.NoError(t, err)
	b, err := New(1, "b", cfg, seq)
	require.NoError(t, err)
	require.NoError(t, a.BeginStep(0, 10))
	require.NoError(t, b.BeginStep(0, 10))

	r1, err := a.Submit(NewLimitOrder(1, 0, true, 9, 1, GoodTillCancel))
	require.NoError(t, err)
	r2, err := b.Submit(NewLimitOrder(1, 1, true, 9, 1, GoodTillCancel))
	require.NoError(t, err)
	assert.Less(t, r1.Order.ID, r2.Order.ID)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), simerr.ErrConfiguration, "no price")
	cfg.FundamentalPrice = 1
	assert.NoError(t, cfg.Validate())
	cfg.TickSize = 0
	assert.ErrorIs(t, cfg.Validate(), simerr.ErrConfiguration)
}
