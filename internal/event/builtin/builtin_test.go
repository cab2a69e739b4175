package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

func newMarket(t *testing.T, id market.ID, name string) *market.Market {
	t.Helper()
	cfg := market.DefaultConfig()
	cfg.FundamentalPrice = 100
	m, err := market.New(id, name, cfg, nil)
	require.NoError(t, err)
	return m
}

func env(session event.Session, ms ...*market.Market) event.Env {
	e := event.Env{Session: session, Agents: []market.AgentID{3, 4}}
	for _, m := range ms {
		e.Markets = append(e.Markets, m)
	}
	return e
}

func trade(t *testing.T, m *market.Market, price float64) {
	t.Helper()
	_, err := m.Submit(market.NewLimitOrder(1, m.ID(), true, price, 1, market.GoodTillCancel))
	require.NoError(t, err)
	rep, err := m.Submit(market.NewMarketOrder(2, m.ID(), false, 1))
	require.NoError(t, err)
	require.Len(t, rep.Executions, 1)
}

func TestConstructors(t *testing.T) {
	for name, mk := range Constructors {
		assert.Equal(t, name, mk().Name())
	}
}

func TestFundamentalPriceShock(t *testing.T) {
	m := newMarket(t, 0, "A")
	e := &FundamentalPriceShock{}
	err := e.Setup(settings.Settings{
		"target": "A", "triggerTime": 2, "priceChangeRate": -0.1, "shockTimeLength": 3,
	}, env(event.Session{ID: 1, StartStep: 10}, m))
	require.NoError(t, err)

	hooks := e.Hooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, event.BeforeStep, hooks[0].Point)
	assert.Equal(t, []int64{12, 13, 14}, hooks[0].Steps)
	assert.Equal(t, []market.ID{0}, hooks[0].Markets)
	assert.Equal(t, []int{1}, hooks[0].Sessions)

	effects, err := e.OnBeforeStep(&event.Context{Point: event.BeforeStep, Step: 12, Market: m})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	scale := effects[0].(event.ScaleFundamental)
	assert.Equal(t, market.ID(0), scale.Market)
	assert.InDelta(t, 0.9, scale.Scale, 1e-12)
}

func TestFundamentalPriceShockConfig(t *testing.T) {
	m := newMarket(t, 0, "A")
	cases := []settings.Settings{
		{"triggerTime": 1, "priceChangeRate": 0.1},
		{"target": "B", "triggerTime": 1, "priceChangeRate": 0.1},
		{"target": "A", "priceChangeRate": 0.1},
		{"target": "A", "triggerTime": 1},
		{"target": "A", "triggerTime": 1, "priceChangeRate": 0.1, "triggerDays": 1},
		{"target": "A", "triggerTime": 1, "priceChangeRate": -1.5},
		{"target": "A", "triggerTime": 1, "priceChangeRate": 0.1, "shockTimeLength": 0},
	}
	for _, s := range cases {
		err := (&FundamentalPriceShock{}).Setup(s, env(event.Session{}, m))
		assert.ErrorIs(t, err, simerr.ErrConfiguration, "%v", s)
	}

	e := &FundamentalPriceShock{}
	require.NoError(t, e.Setup(settings.Settings{
		"target": "A", "triggerTime": 1, "priceChangeRate": 0.1, "enabled": false,
	}, env(event.Session{}, m)))
	assert.Empty(t, e.Hooks())
}

func TestPriceLimitRule(t *testing.T) {
	m := newMarket(t, 0, "A")
	e := &PriceLimitRule{}
	require.NoError(t, e.Setup(settings.Settings{"referenceMarket": "A", "triggerChangeRate": 0.1}, env(event.Session{}, m)))
	require.NoError(t, m.BeginStep(0, 100))

	cases := []struct {
		price, want float64
		adjusted    bool
	}{
		{price: 100, want: 100},
		{price: 109, want: 109},
		{price: 130, want: 110, adjusted: true},
		{price: 50, want: 90, adjusted: true},
	}
	for _, c := range cases {
		o := market.NewLimitOrder(1, 0, true, c.price, 1, 1)
		effects, err := e.OnBeforeOrder(&event.Context{Point: event.BeforeOrder, Market: m}, o)
		require.NoError(t, err)
		if !c.adjusted {
			assert.Empty(t, effects, "%v", c.price)
			continue
		}
		require.Len(t, effects, 1)
		assert.InDelta(t, c.want, effects[0].(event.AdjustOrderPrice).Price, 1e-9)
	}

	effects, err := e.OnBeforeOrder(&event.Context{}, market.NewMarketOrder(1, 0, true, 1))
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestPriceLimitRuleThroughDispatcher(t *testing.T) {
	m := newMarket(t, 0, "A")
	e := &PriceLimitRule{}
	require.NoError(t, e.Setup(settings.Settings{"referenceMarket": "A", "triggerChangeRate": 0.05}, env(event.Session{}, m)))
	require.NoError(t, m.BeginStep(0, 100))

	d := event.NewDispatcher(nil, nil)
	require.NoError(t, d.Register(e))
	d.Freeze()

	got, err := d.BeforeOrder(&event.Context{Point: event.BeforeOrder, Market: m}, market.NewLimitOrder(1, 0, false, 80, 1, 1))
	require.NoError(t, err)
	assert.InDelta(t, 95.0, got.Price, 1e-9)
}

func TestTradingHaltRule(t *testing.T) {
	ref, other := newMarket(t, 0, "A"), newMarket(t, 1, "B")
	e := &TradingHaltRule{}
	require.NoError(t, e.Setup(settings.Settings{
		"referenceMarket":   "A",
		"triggerChangeRate": 0.1,
		"haltingTimeLength": 2,
		"targetMarkets":     []any{"A", "B"},
	}, env(event.Session{}, ref, other)))
	hooks := e.Hooks()
	require.Len(t, hooks, 2)

	require.NoError(t, ref.BeginStep(0, 100))
	trade(t, ref, 95)
	effects, err := e.OnAfterOrder(&event.Context{Point: event.AfterOrder, Step: 0, Market: ref}, market.Order{})
	require.NoError(t, err)
	assert.Empty(t, effects, "move of 5 is below the threshold of 10")

	require.NoError(t, ref.BeginStep(1, 100))
	trade(t, ref, 89)
	effects, err = e.OnAfterOrder(&event.Context{Point: event.AfterOrder, Step: 1, Market: ref}, market.Order{})
	require.NoError(t, err)
	assert.Equal(t, []event.Effect{
		event.SetMarketRunning{Market: 0, Running: false},
		event.SetMarketRunning{Market: 1, Running: false},
	}, effects)
	assert.Equal(t, 1, e.Activations())
	ref.SetRunning(false)
	other.SetRunning(false)

	for step := int64(2); step <= 3; step++ {
		effects, err = e.OnBeforeStep(&event.Context{Point: event.BeforeStep, Step: step, Market: ref})
		require.NoError(t, err)
		assert.Empty(t, effects, "step %d", step)
	}
	effects, err = e.OnBeforeStep(&event.Context{Point: event.BeforeStep, Step: 4, Market: ref})
	require.NoError(t, err)
	assert.Equal(t, []event.Effect{
		event.SetMarketRunning{Market: 0, Running: true},
		event.SetMarketRunning{Market: 1, Running: true},
	}, effects)
	ref.SetRunning(true)

	// the second halt needs twice the move
	effects, err = e.OnAfterOrder(&event.Context{Point: event.AfterOrder, Step: 4, Market: ref}, market.Order{})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestTradingHaltRuleRequiresTargets(t *testing.T) {
	m := newMarket(t, 0, "A")
	err := (&TradingHaltRule{}).Setup(settings.Settings{"referenceMarket": "A", "triggerChangeRate": 0.1}, env(event.Session{}, m))
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestOrderMistakeShock(t *testing.T) {
	m := newMarket(t, 0, "A")
	e := &OrderMistakeShock{}
	require.NoError(t, e.Setup(settings.Settings{
		"target": "A", "triggerTime": 3, "priceChangeRate": -0.2, "orderVolume": 50, "orderTimeLength": 4,
	}, env(event.Session{ID: 0, StartStep: 5}, m)))
	hooks := e.Hooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, []int64{8}, hooks[0].Steps)

	require.NoError(t, m.BeginStep(0, 100))
	effects, err := e.OnBeforeStep(&event.Context{Point: event.BeforeStep, Step: 8, Market: m})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	o := effects[0].(event.InjectOrder).Order
	assert.False(t, o.IsBuy)
	assert.Equal(t, market.KindLimit, o.Kind)
	assert.InDelta(t, 80.0, o.Price, 1e-9)
	assert.Equal(t, int64(50), o.Volume)
	assert.Equal(t, int64(4), o.TTL)
	assert.Equal(t, market.AgentID(3), o.AgentID)

	up := &OrderMistakeShock{}
	require.NoError(t, up.Setup(settings.Settings{
		"target": "A", "triggerTime": 0, "priceChangeRate": 0.3, "orderVolume": 1, "orderTimeLength": 1, "agent": 4,
	}, env(event.Session{}, m)))
	effects, err = up.OnBeforeStep(&event.Context{Point: event.BeforeStep, Market: m})
	require.NoError(t, err)
	o = effects[0].(event.InjectOrder).Order
	assert.True(t, o.IsBuy)
	assert.Equal(t, market.AgentID(4), o.AgentID)
}
