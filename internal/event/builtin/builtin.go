// Package builtin holds the stock market-design events: fundamental shocks,
// price limits, trading halts and erroneous orders.
package builtin

import (
	"math"

	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// Constructors maps class names to event constructors.
var Constructors = map[string]func() event.Event{
	"FundamentalPriceShock": func() event.Event { return &FundamentalPriceShock{} },
	"PriceLimitRule":        func() event.Event { return &PriceLimitRule{} },
	"TradingHaltRule":       func() event.Event { return &TradingHaltRule{} },
	"OrderMistakeShock":     func() event.Event { return &OrderMistakeShock{} },
}

func lookup(env event.Env, s settings.Settings, key string) (market.Reader, error) {
	name, err := s.String(key, "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, simerr.Config(key, "required")
	}
	m, ok := env.MarketByName(name)
	if !ok {
		return nil, simerr.Config(key, "unknown market %q", name)
	}
	return m, nil
}

func lookupAll(env event.Env, s settings.Settings, key string) ([]market.Reader, error) {
	names, err := s.Strings(key)
	if err != nil {
		return nil, err
	}
	out := make([]market.Reader, 0, len(names))
	for _, name := range names {
		m, ok := env.MarketByName(name)
		if !ok {
			return nil, simerr.Config(key, "unknown market %q", name)
		}
		out = append(out, m)
	}
	return out, nil
}

func rate(s settings.Settings, key string) (float64, error) {
	v, err := s.RequireFloat(key)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, simerr.Config(key, "must be finite")
	}
	return v, nil
}

func positiveInt(s settings.Settings, key string, def int64, required bool) (int64, error) {
	var (
		v   int64
		err error
	)
	if required {
		v, err = s.RequireInt(key)
	} else {
		v, err = s.Int(key, def)
	}
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, simerr.Config(key, "must be positive, got %d", v)
	}
	return v, nil
}

// FundamentalPriceShock multiplies the target's fundamental price by
// 1+priceChangeRate at each of shockTimeLength steps from triggerTime.
type FundamentalPriceShock struct {
	target  market.Reader
	trigger int64
	length  int64
	rate    float64
	enabled bool
	session int
}

func (e *FundamentalPriceShock) Name() string { return "FundamentalPriceShock" }

func (e *FundamentalPriceShock) Setup(s settings.Settings, env event.Env) error {
	var err error
	if s.Has("triggerDays") {
		return simerr.Config("triggerDays", "obsolete, use triggerTime")
	}
	if e.target, err = lookup(env, s, "target"); err != nil {
		return err
	}
	if _, ok := e.target.(interface{ Components() []market.Reader }); ok {
		return simerr.Config("target", "%q is an index market", e.target.Name())
	}
	offset, err := s.RequireInt("triggerTime")
	if err != nil {
		return err
	}
	e.trigger = env.Session.StartStep + offset
	if e.rate, err = rate(s, "priceChangeRate"); err != nil {
		return err
	}
	if e.rate <= -1 {
		return simerr.Config("priceChangeRate", "must be greater than -1")
	}
	if e.length, err = positiveInt(s, "shockTimeLength", 1, false); err != nil {
		return err
	}
	if e.enabled, err = s.Bool("enabled", true); err != nil {
		return err
	}
	e.session = env.Session.ID
	return nil
}

func (e *FundamentalPriceShock) Hooks() []event.Hook {
	if !e.enabled {
		return nil
	}
	return []event.Hook{{
		Point:    event.BeforeStep,
		Markets:  []market.ID{e.target.ID()},
		Steps:    event.StepRange(e.trigger, e.length),
		Sessions: []int{e.session},
	}}
}

func (e *FundamentalPriceShock) OnBeforeStep(ctx *event.Context) ([]event.Effect, error) {
	return []event.Effect{event.ScaleFundamental{Market: e.target.ID(), Scale: 1 + e.rate}}, nil
}

// PriceLimitRule clamps limit prices on the reference market to within
// triggerChangeRate of its price at step 0.
type PriceLimitRule struct {
	ref     market.Reader
	rate    float64
	enabled bool
}

func (e *PriceLimitRule) Name() string { return "PriceLimitRule" }

func (e *PriceLimitRule) Setup(s settings.Settings, env event.Env) error {
	var err error
	if e.ref, err = lookup(env, s, "referenceMarket"); err != nil {
		return err
	}
	if e.rate, err = rate(s, "triggerChangeRate"); err != nil {
		return err
	}
	if e.rate < 0 {
		return simerr.Config("triggerChangeRate", "must not be negative")
	}
	e.enabled, err = s.Bool("enabled", true)
	return err
}

func (e *PriceLimitRule) Hooks() []event.Hook {
	if !e.enabled {
		return nil
	}
	return []event.Hook{{Point: event.BeforeOrder, Markets: []market.ID{e.ref.ID()}}}
}

// Limit returns price clamped into the allowed band.
func (e *PriceLimitRule) Limit(price float64) (float64, error) {
	ref, err := e.ref.MarketPriceAt(0)
	if err != nil {
		return 0, err
	}
	lo, hi := ref*(1-e.rate), ref*(1+e.rate)
	return min(max(price, lo), hi), nil
}

func (e *PriceLimitRule) OnBeforeOrder(_ *event.Context, o market.Order) ([]event.Effect, error) {
	if o.Kind != market.KindLimit {
		return nil, nil
	}
	p, err := e.Limit(o.Price)
	if err != nil {
		return nil, err
	}
	if p == o.Price {
		return nil, nil
	}
	return []event.Effect{event.AdjustOrderPrice{Price: p}}, nil
}

// TradingHaltRule halts the reference and target markets once the reference
// price has moved by triggerChangeRate times one more than the number of
// earlier halts, and resumes them after haltingTimeLength steps.
type TradingHaltRule struct {
	ref         market.Reader
	targets     []market.Reader
	refPrice    float64
	rate        float64
	length      int64
	enabled     bool
	activations int
	haltedAt    int64
}

func (e *TradingHaltRule) Name() string { return "TradingHaltRule" }

func (e *TradingHaltRule) Setup(s settings.Settings, env event.Env) error {
	var err error
	if e.ref, err = lookup(env, s, "referenceMarket"); err != nil {
		return err
	}
	e.refPrice = e.ref.MarketPrice()
	if e.rate, err = rate(s, "triggerChangeRate"); err != nil {
		return err
	}
	if e.length, err = positiveInt(s, "haltingTimeLength", 1, false); err != nil {
		return err
	}
	if !s.Has("targetMarkets") {
		return simerr.Config("targetMarkets", "required")
	}
	if e.targets, err = lookupAll(env, s, "targetMarkets"); err != nil {
		return err
	}
	e.enabled, err = s.Bool("enabled", true)
	return err
}

func (e *TradingHaltRule) Hooks() []event.Hook {
	if !e.enabled {
		return nil
	}
	on := []market.ID{e.ref.ID()}
	return []event.Hook{
		{Point: event.AfterOrder, Markets: on},
		{Point: event.BeforeStep, Markets: on},
	}
}

// Activations returns how many halts have been triggered.
func (e *TradingHaltRule) Activations() int { return e.activations }

func (e *TradingHaltRule) switchAll(running bool) []event.Effect {
	effects := []event.Effect{event.SetMarketRunning{Market: e.ref.ID(), Running: running}}
	for _, m := range e.targets {
		if m.ID() == e.ref.ID() {
			continue
		}
		effects = append(effects, event.SetMarketRunning{Market: m.ID(), Running: running})
	}
	return effects
}

func (e *TradingHaltRule) OnAfterOrder(ctx *event.Context, _ market.Order) ([]event.Effect, error) {
	if e.ref.IsHalted() {
		return e.maybeResume(ctx.Step), nil
	}
	change := e.refPrice - e.ref.MarketPrice()
	threshold := e.refPrice * e.rate * float64(e.activations+1)
	if math.Abs(change) < math.Abs(threshold) {
		return nil, nil
	}
	e.haltedAt = ctx.Step
	e.activations++
	return e.switchAll(false), nil
}

func (e *TradingHaltRule) OnBeforeStep(ctx *event.Context) ([]event.Effect, error) {
	if !e.ref.IsHalted() {
		return nil, nil
	}
	return e.maybeResume(ctx.Step), nil
}

func (e *TradingHaltRule) maybeResume(step int64) []event.Effect {
	if step <= e.haltedAt+e.length {
		return nil
	}
	return e.switchAll(true)
}

// OrderMistakeShock injects one erroneous limit order on the target market at
// triggerTime, priced priceChangeRate away from the market price.
type OrderMistakeShock struct {
	target  market.Reader
	trigger int64
	rate    float64
	volume  int64
	ttl     int64
	agent   market.AgentID
	enabled bool
	session int
}

func (e *OrderMistakeShock) Name() string { return "OrderMistakeShock" }

func (e *OrderMistakeShock) Setup(s settings.Settings, env event.Env) error {
	var err error
	if e.target, err = lookup(env, s, "target"); err != nil {
		return err
	}
	offset, err := s.RequireInt("triggerTime")
	if err != nil {
		return err
	}
	e.trigger = env.Session.StartStep + offset
	if e.rate, err = rate(s, "priceChangeRate"); err != nil {
		return err
	}
	if e.volume, err = positiveInt(s, "orderVolume", 0, true); err != nil {
		return err
	}
	if e.ttl, err = positiveInt(s, "orderTimeLength", 0, true); err != nil {
		return err
	}
	if len(env.Agents) == 0 {
		return simerr.Config("agent", "no agents to place the order")
	}
	id, err := s.Int("agent", int64(env.Agents[0]))
	if err != nil {
		return err
	}
	e.agent = market.AgentID(id)
	if e.enabled, err = s.Bool("enabled", true); err != nil {
		return err
	}
	e.session = env.Session.ID
	return nil
}

func (e *OrderMistakeShock) Hooks() []event.Hook {
	if !e.enabled {
		return nil
	}
	return []event.Hook{{
		Point:    event.BeforeStep,
		Markets:  []market.ID{e.target.ID()},
		Steps:    []int64{e.trigger},
		Sessions: []int{e.session},
	}}
}

func (e *OrderMistakeShock) OnBeforeStep(ctx *event.Context) ([]event.Effect, error) {
	price := ctx.Market.MarketPrice() * (1 + e.rate)
	isBuy := e.rate > 0
	o := market.NewLimitOrder(e.agent, e.target.ID(), isBuy, price, e.volume, e.ttl)
	return []event.Effect{event.InjectOrder{Order: o}}, nil
}
