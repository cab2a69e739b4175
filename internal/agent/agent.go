// Package agent defines the trading participant capability and Base, the
// default bookkeeping every concrete agent embeds.
package agent

import (
	"maps"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// Markets gives agents read access to the simulated markets.
type Markets interface {
	Market(id market.ID) (market.Reader, bool)
	Markets() []market.Reader
}

// Batch is what an agent submits in one activation. Cancels are processed
// before orders.
type Batch struct {
	Orders  []market.Order
	Cancels []market.Cancel
}

// Empty reports whether the batch carries nothing.
func (b Batch) Empty() bool { return len(b.Orders) == 0 && len(b.Cancels) == 0 }

// Env is what an agent receives at setup.
type Env struct {
	ID         market.AgentID
	Name       string
	PRNG       *rand.Rand
	Accessible []market.ID
	Logger     *zap.Logger
}

// Agent is a trading participant. The kernel owns its accounts: it calls the
// Update methods on every execution, and the agent only observes them.
type Agent interface {
	ID() market.AgentID
	Name() string
	Setup(s settings.Settings, env Env) error

	// SubmitOrders is called when the agent is activated at step.
	SubmitOrders(step int64, markets Markets) Batch

	SubmittedOrder(o market.Order)
	CanceledOrder(c market.Canceled)
	ExecutedOrder(x market.Execution)
	RejectedOrder(o market.Order, err error)
	RejectedCancel(c market.Cancel, err error)

	CashAmount() float64
	AssetVolume(m market.ID) int64
	UpdateCashAmount(delta float64)
	UpdateAssetVolume(m market.ID, delta int64)
	IsMarketAccessible(m market.ID) bool
	PRNG() *rand.Rand
}

// HighFrequency is implemented by agents that may be activated on the
// high-frequency schedule.
type HighFrequency interface {
	IsHighFrequency() bool
}

// IsHighFrequency reports whether a is a high-frequency agent.
func IsHighFrequency(a Agent) bool {
	hf, ok := a.(HighFrequency)
	return ok && hf.IsHighFrequency()
}

// Base implements every Agent method except SubmitOrders.
//
// Settings read by Setup:
//
//	cashAmount     initial cash (distribution, required)
//	assetVolume    initial holding in each accessible market (distribution, required)
//	highFrequency  activate on the high-frequency schedule (bool, default false)
type Base struct {
	id         market.AgentID
	name       string
	rng        *rand.Rand
	logger     *zap.Logger
	accessible map[market.ID]bool
	cash       float64
	assets     map[market.ID]int64
	hf         bool
}

func (b *Base) ID() market.AgentID { return b.id }
func (b *Base) Name() string       { return b.name }
func (b *Base) PRNG() *rand.Rand   { return b.rng }

// Logger returns the agent's diagnostics logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

func (b *Base) Setup(s settings.Settings, env Env) error {
	b.id = env.ID
	b.name = env.Name
	b.rng = env.PRNG
	b.logger = env.Logger
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.rng == nil {
		return simerr.Config(env.Name, "agent needs a random stream")
	}
	if len(env.Accessible) == 0 {
		return simerr.Config(env.Name+".markets", "no accessible markets")
	}

	for _, key := range []string{"cashAmount", "assetVolume"} {
		if !s.Has(key) {
			return simerr.Config(env.Name+"."+key, "is required")
		}
	}
	cash, err := s.Sample("cashAmount", 0, b.rng)
	if err != nil {
		return err
	}
	vol, err := s.Distribution("assetVolume", settings.Const(0))
	if err != nil {
		return err
	}
	if b.hf, err = s.Bool("highFrequency", false); err != nil {
		return err
	}

	b.cash = cash
	b.accessible = make(map[market.ID]bool, len(env.Accessible))
	b.assets = make(map[market.ID]int64, len(env.Accessible))
	for _, id := range env.Accessible {
		b.accessible[id] = true
		b.assets[id] = int64(vol.Sample(b.rng))
	}
	return nil
}

func (b *Base) IsHighFrequency() bool { return b.hf }

func (b *Base) SubmittedOrder(market.Order)    {}
func (b *Base) CanceledOrder(market.Canceled)  {}
func (b *Base) ExecutedOrder(market.Execution) {}

func (b *Base) RejectedOrder(o market.Order, err error) {
	b.logger.Debug("order rejected", zap.Int("agent", int(b.id)), zap.Stringer("order", o), zap.Error(err))
}

func (b *Base) RejectedCancel(c market.Cancel, err error) {
	b.logger.Debug("cancel rejected", zap.Int("agent", int(b.id)), zap.Int64("order", int64(c.OrderID)), zap.Error(err))
}

func (b *Base) CashAmount() float64                 { return b.cash }
func (b *Base) AssetVolume(m market.ID) int64       { return b.assets[m] }
func (b *Base) UpdateCashAmount(delta float64)      { b.cash += delta }
func (b *Base) IsMarketAccessible(m market.ID) bool { return b.accessible[m] }

func (b *Base) UpdateAssetVolume(m market.ID, delta int64) {
	if b.assets == nil {
		b.assets = make(map[market.ID]int64)
	}
	b.assets[m] += delta
}

// AccessibleMarkets returns the accessible market ids in ascending order.
func (b *Base) AccessibleMarkets() []market.ID {
	return slices.Sorted(maps.Keys(b.accessible))
}

// Holdings returns a copy of the asset volumes by market.
func (b *Base) Holdings() map[market.ID]int64 { return maps.Clone(b.assets) }
