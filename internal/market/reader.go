package market

import (
	"fmt"
	"math"

	"github.com/zappabad/marketsim/internal/orderbook/core"
)

// Reader is the read-only view of a market handed to agents and events.
type Reader interface {
	ID() ID
	Name() string
	Step() int64
	TickSize() float64
	OutstandingShares() int64
	IsRunning() bool
	IsHalted() bool

	MarketPrice() float64
	MarketPriceAt(step int64) (float64, error)
	MarketPrices() []float64
	MidPrice() (float64, bool)
	LastExecutedPrice() (float64, bool)
	FundamentalPrice() float64
	FundamentalPriceAt(step int64) (float64, error)
	VWAP() float64
	ExecutedVolume() int64
	OrderCounts() (buy, sell int64)

	BestBuyPrice() (float64, bool)
	BestSellPrice() (float64, bool)
	BuyBook() []Level
	SellBook() []Level
	Quote() Quote
	RecentExecutions(n int) []Execution
	RestingOrdersOf(agent AgentID) []RestingOrder
	ToTicks(price float64, isBuy bool) int64
	ToPrice(ticks int64) float64
}

var _ Reader = (*Market)(nil)

func (m *Market) checkStep(step int64) error {
	if m.step < 0 {
		return ErrNotStarted
	}
	if step > m.step {
		return fmt.Errorf("%w: step %d, market at %d", ErrFutureStep, step, m.step)
	}
	if step < 0 {
		return fmt.Errorf("negative step %d", step)
	}
	return nil
}

// MarketPrice returns the market price at the current step.
func (m *Market) MarketPrice() float64 {
	if m.step < 0 {
		if m.cfg.MarketPrice > 0 {
			return m.cfg.MarketPrice
		}
		return m.cfg.FundamentalPrice
	}
	return m.hist.marketPrices[m.step]
}

// MarketPriceAt returns the market price at a past or current step.
func (m *Market) MarketPriceAt(step int64) (float64, error) {
	if err := m.checkStep(step); err != nil {
		return 0, err
	}
	return m.hist.marketPrices[step], nil
}

// MarketPrices returns the market price history from step 0 to the current step.
func (m *Market) MarketPrices() []float64 {
	if m.step < 0 {
		return nil
	}
	return copyUpTo(m.hist.marketPrices, m.step)
}

func (m *Market) MidPrice() (float64, bool) {
	if m.step < 0 {
		return 0, false
	}
	return optional(m.hist.midPrices[m.step])
}

func (m *Market) LastExecutedPrice() (float64, bool) {
	if m.step < 0 {
		return 0, false
	}
	return optional(m.hist.lastPrices[m.step])
}

func (m *Market) FundamentalPrice() float64 {
	if m.step < 0 {
		return m.cfg.FundamentalPrice
	}
	return m.hist.fundamentals[m.step]
}

func (m *Market) FundamentalPriceAt(step int64) (float64, error) {
	if err := m.checkStep(step); err != nil {
		return 0, err
	}
	return m.hist.fundamentals[step], nil
}

// VWAP returns the volume-weighted average execution price up to the current
// step, or NaN before the first execution.
func (m *Market) VWAP() float64 {
	var (
		vol      int64
		notional float64
	)
	for t := int64(0); t <= m.step; t++ {
		vol += m.hist.volumes[t]
		notional += m.hist.notionals[t]
	}
	if vol == 0 {
		return math.NaN()
	}
	return notional / float64(vol)
}

// ExecutedVolume returns the volume executed in the current step.
func (m *Market) ExecutedVolume() int64 {
	if m.step < 0 {
		return 0
	}
	return m.hist.volumes[m.step]
}

// OrderCounts returns the buy and sell orders accepted in the current step.
func (m *Market) OrderCounts() (buy, sell int64) {
	if m.step < 0 {
		return 0, 0
	}
	return m.hist.buyOrders[m.step], m.hist.sellOrders[m.step]
}

func (m *Market) BestBuyPrice() (float64, bool) {
	p, ok := m.view.Best(core.SideBuy)
	if !ok {
		return 0, false
	}
	return m.ToPrice(int64(p)), true
}

func (m *Market) BestSellPrice() (float64, bool) {
	p, ok := m.view.Best(core.SideSell)
	if !ok {
		return 0, false
	}
	return m.ToPrice(int64(p)), true
}

// BuyBook returns aggregated bid levels, best first.
func (m *Market) BuyBook() []Level { return m.levels(core.SideBuy) }

// SellBook returns aggregated ask levels, best first.
func (m *Market) SellBook() []Level { return m.levels(core.SideSell) }

func (m *Market) levels(side core.Side) []Level {
	src := m.view.Levels(side)
	out := make([]Level, 0, len(src))
	for _, l := range src {
		out = append(out, Level{Price: m.ToPrice(int64(l.Price)), Volume: int64(l.Size)})
	}
	return out
}

// Quote returns best prices with their volumes and the last trade.
func (m *Market) Quote() Quote {
	var q Quote
	if bids := m.view.Levels(core.SideBuy); len(bids) > 0 {
		q.BidPrice, q.BidVolume, q.BidOK = m.ToPrice(int64(bids[0].Price)), int64(bids[0].Size), true
	}
	if asks := m.view.Levels(core.SideSell); len(asks) > 0 {
		q.AskPrice, q.AskVolume, q.AskOK = m.ToPrice(int64(asks[0].Price)), int64(asks[0].Size), true
	}
	if last := m.view.TradesLast(1); len(last) == 1 {
		q.LastPrice, q.LastStep, q.HasLast = m.ToPrice(int64(last[0].Price)), last[0].Step, true
	}
	return q
}

// RecentExecutions returns up to n latest executions in chronological order.
func (m *Market) RecentExecutions(n int) []Execution {
	trades := m.view.TradesLast(n)
	out := make([]Execution, 0, len(trades))
	for _, tr := range trades {
		out = append(out, m.execution(tr))
	}
	return out
}

// RestingOrdersOf returns the agent's resting orders, bids first, each side in priority order.
func (m *Market) RestingOrdersOf(agent AgentID) []RestingOrder {
	var out []RestingOrder
	for _, side := range []core.Side{core.SideBuy, core.SideSell} {
		for _, o := range m.view.Orders(side) {
			if o.Owner != core.OwnerID(agent) {
				continue
			}
			out = append(out, RestingOrder{
				OrderID:  o.ID,
				AgentID:  agent,
				IsBuy:    o.Side == core.SideBuy,
				Price:    m.ToPrice(int64(o.Price)),
				Volume:   int64(o.Size),
				PlacedAt: o.Step,
			})
		}
	}
	return out
}
