// Package strategy contains sample agents.
package strategy

import (
	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// RandomLimit places one order per activation on a random accessible market,
// priced a sampled margin away from the market price: bids below, asks above.
// A negative margin crosses the spread.
//
// Settings, in addition to those of agent.Base:
//
//	orderVolume        volume of each order (int, default 1)
//	priceMargin        relative distance from the market price (distribution, default [-0.02, 0.05])
//	timeToLive         ttl of each limit order (int, default 100)
//	marketOrderRate    probability of a market order instead of a limit (default 0)
//	cancelRate         probability of first canceling the oldest resting order (default 0)
type RandomLimit struct {
	agent.Base

	volume     int64
	margin     settings.Distribution
	ttl        int64
	marketRate float64
	cancelRate float64
}

// NewRandomLimit returns an agent ready for Setup.
func NewRandomLimit() *RandomLimit { return &RandomLimit{} }

func probability(s settings.Settings, key string) (float64, error) {
	p, err := s.Float(key, 0)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 1 {
		return 0, simerr.Config(key, "must be within [0, 1], got %g", p)
	}
	return p, nil
}

func (a *RandomLimit) Setup(s settings.Settings, env agent.Env) error {
	if err := a.Base.Setup(s, env); err != nil {
		return err
	}
	var err error
	if a.volume, err = s.Int("orderVolume", 1); err != nil {
		return err
	}
	if a.volume <= 0 {
		return simerr.Config("orderVolume", "must be positive")
	}
	if a.margin, err = s.Distribution("priceMargin", settings.Uniform(-0.02, 0.05)); err != nil {
		return err
	}
	if a.ttl, err = s.Int("timeToLive", 100); err != nil {
		return err
	}
	if a.ttl < 0 {
		return simerr.Config("timeToLive", "must not be negative")
	}
	if a.marketRate, err = probability(s, "marketOrderRate"); err != nil {
		return err
	}
	a.cancelRate, err = probability(s, "cancelRate")
	return err
}

// SubmitOrders implements agent.Agent.
func (a *RandomLimit) SubmitOrders(step int64, markets agent.Markets) agent.Batch {
	var open []market.Reader
	for _, id := range a.AccessibleMarkets() {
		if m, ok := markets.Market(id); ok {
			open = append(open, m)
		}
	}
	if len(open) == 0 {
		return agent.Batch{}
	}
	rng := a.PRNG()
	m := open[rng.IntN(len(open))]

	var batch agent.Batch
	if a.cancelRate > 0 && rng.Float64() < a.cancelRate {
		if mine := m.RestingOrdersOf(a.ID()); len(mine) > 0 {
			oldest := mine[0]
			for _, o := range mine[1:] {
				if o.OrderID < oldest.OrderID {
					oldest = o
				}
			}
			batch.Cancels = append(batch.Cancels, market.Cancel{
				OrderID:  oldest.OrderID,
				MarketID: m.ID(),
				AgentID:  a.ID(),
				IssuedAt: step,
			})
		}
	}

	isBuy := rng.IntN(2) == 0
	if a.marketRate > 0 && rng.Float64() < a.marketRate && m.IsRunning() {
		batch.Orders = append(batch.Orders, market.NewMarketOrder(a.ID(), m.ID(), isBuy, a.volume))
		return batch
	}

	margin := a.margin.Sample(rng)
	price := m.MarketPrice()
	if isBuy {
		price *= 1 - margin
	} else {
		price *= 1 + margin
	}
	if price < m.TickSize() {
		price = m.TickSize()
	}
	batch.Orders = append(batch.Orders, market.NewLimitOrder(a.ID(), m.ID(), isBuy, price, a.volume, a.ttl))
	return batch
}
