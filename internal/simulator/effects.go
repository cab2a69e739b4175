package simulator

import (
	"errors"
	"fmt"
	"math"

	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/market"
)

var _ event.Applier = (*Simulator)(nil)

var ErrUnknownEffect = errors.New("unknown effect")

func (s *Simulator) venue(id market.ID) (market.Venue, error) {
	if id < 0 || int(id) >= len(s.markets) {
		return nil, fmt.Errorf("unknown market %d", id)
	}
	return s.markets[id], nil
}

// ValidateEffect implements event.Applier.
func (s *Simulator) ValidateEffect(ctx *event.Context, eff event.Effect) error {
	switch e := eff.(type) {
	case event.ScaleFundamental:
		v, err := s.venue(e.Market)
		if err != nil {
			return err
		}
		if isIndex(v) || !s.fund.Has(e.Market) {
			return fmt.Errorf("%v: market %q has no fundamental process of its own", e, v.Name())
		}
		if !(e.Scale > 0) || math.IsInf(e.Scale, 0) {
			return fmt.Errorf("%v: scale must be positive and finite", e)
		}
		if v.Step() != ctx.Step {
			return fmt.Errorf("%v: market is at step %d", e, v.Step())
		}
		return nil
	case event.SetMarketRunning:
		_, err := s.venue(e.Market)
		return err
	case event.InjectOrder:
		if ctx.Point == event.BeforeSession || ctx.Point == event.AfterSession {
			return fmt.Errorf("%v: not allowed at %v", e, ctx.Point)
		}
		if _, ok := s.Agent(e.Order.AgentID); !ok {
			return fmt.Errorf("%v: unknown agent %d", e, e.Order.AgentID)
		}
		v, err := s.venue(e.Order.MarketID)
		if err != nil {
			return err
		}
		if v.Step() != ctx.Step {
			return fmt.Errorf("%v: market is at step %d", e, v.Step())
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEffect, eff)
	}
}

// ApplyEffect implements event.Applier. Injected orders are queued and
// submitted once the current dispatch completes.
func (s *Simulator) ApplyEffect(ctx *event.Context, eff event.Effect) error {
	switch e := eff.(type) {
	case event.ScaleFundamental:
		v, err := s.venue(e.Market)
		if err != nil {
			return err
		}
		f, err := s.fund.Scale(e.Market, ctx.Step, e.Scale)
		if err != nil {
			return err
		}
		v.SetFundamental(f)
	case event.SetMarketRunning:
		v, err := s.venue(e.Market)
		if err != nil {
			return err
		}
		v.SetRunning(e.Running)
	case event.InjectOrder:
		s.injected = append(s.injected, e.Order)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEffect, eff)
	}
	return nil
}
