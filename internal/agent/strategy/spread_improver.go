package strategy

import (
	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// SpreadImprover places a small bid one tick below the best ask whenever
// that bid would become the best bid. It is a natural high-frequency agent.
//
// Settings, in addition to those of agent.Base:
//
//	orderVolume  volume of each order (int, default 1)
//	timeToLive   ttl of each order (int, default 1)
type SpreadImprover struct {
	agent.Base

	volume int64
	ttl    int64
}

// NewSpreadImprover returns an agent ready for Setup.
func NewSpreadImprover() *SpreadImprover { return &SpreadImprover{} }

func (a *SpreadImprover) Setup(s settings.Settings, env agent.Env) error {
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
	if a.ttl, err = s.Int("timeToLive", 1); err != nil {
		return err
	}
	if a.ttl < 0 {
		return simerr.Config("timeToLive", "must not be negative")
	}
	return nil
}

// SubmitOrders implements agent.Agent.
func (a *SpreadImprover) SubmitOrders(_ int64, markets agent.Markets) agent.Batch {
	var batch agent.Batch
	for _, id := range a.AccessibleMarkets() {
		m, ok := markets.Market(id)
		if !ok {
			continue
		}
		ask, ok := m.BestSellPrice()
		if !ok {
			continue
		}
		ticks := m.ToTicks(ask, false) - 1
		if ticks <= 0 {
			continue
		}
		bid := m.ToPrice(ticks)
		if best, ok := m.BestBuyPrice(); ok && bid <= best {
			continue
		}
		batch.Orders = append(batch.Orders, market.NewLimitOrder(a.ID(), id, true, bid, a.volume, a.ttl))
	}
	return batch
}
