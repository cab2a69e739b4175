package simulator

import (
	"errors"

	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/simerr"
)

// step runs one step of the current session:
//   - every market begins the step, in id order, with its before-step hooks
//   - agents are activated and their batches processed
//   - every market runs its matching pass
//   - every market expires orders and closes the step with its after-step hooks
func (s *Simulator) step(t int64) error {
	events := s.cur.events
	cfg := s.cur.sess.Config()

	for _, v := range s.markets {
		var f float64
		if !isIndex(v) {
			var err error
			if f, err = s.fund.Price(v.ID(), t); err != nil {
				return simerr.Scheduling("simulator.step", "fundamental of market %d: %v", v.ID(), err)
			}
		}
		if err := v.BeginStep(t, f); err != nil {
			return err
		}
		if err := events.BeforeStep(s.context(event.BeforeStep, t, v)); err != nil {
			return err
		}
		s.sink.Write(logs.NewMarketStepBeginLog(s.cur.sess.ID(), v))
		if err := s.drainInjected(t); err != nil {
			return err
		}
	}

	if cfg.WithOrderPlacement {
		if err := s.activate(t); err != nil {
			return err
		}
	}

	for _, v := range s.markets {
		for _, x := range v.StepMatch() {
			if err := s.settle(t, v, x); err != nil {
				return err
			}
		}
	}

	for _, v := range s.markets {
		expired, err := v.EndStep()
		if err != nil {
			return err
		}
		for _, c := range expired {
			s.stats.Expired++
			if err := s.canceled(t, v, c); err != nil {
				return err
			}
		}
		if err := events.AfterStep(s.context(event.AfterStep, t, v)); err != nil {
			return err
		}
		if err := s.drainInjected(t); err != nil {
			return err
		}
		s.sink.Write(logs.NewMarketStepEndLog(s.cur.sess.ID(), cfg.WithPrint, v))
	}
	s.stats.Steps++
	return nil
}

// activate asks normal agents for batches in a shuffled order until
// maxNormalOrders non-empty batches have been processed. Each processed batch
// is followed by a high-frequency round. With maxNormalOrders 0 every normal
// agent is asked, in id order.
func (s *Simulator) activate(t int64) error {
	cfg := s.cur.sess.Config()
	order := s.normal
	if cfg.MaxNormalOrders > 0 {
		order = s.cur.sess.ActivationOrder(s.rng, s.normal)
	}
	accepted := 0
	for _, id := range order {
		a := s.agents[id]
		b := a.SubmitOrders(t, s)
		if b.Empty() {
			continue
		}
		if err := s.process(t, a, b); err != nil {
			return err
		}
		accepted++
		if err := s.highFrequencyRound(t); err != nil {
			return err
		}
		if cfg.MaxNormalOrders > 0 && accepted >= cfg.MaxNormalOrders {
			break
		}
	}
	return nil
}

func (s *Simulator) highFrequencyRound(t int64) error {
	cfg := s.cur.sess.Config()
	if len(s.hifreq) == 0 || cfg.MaxHighFrequencyOrders == 0 {
		return nil
	}
	accepted := 0
	for _, id := range s.cur.sess.ActivationOrder(s.rng, s.hifreq) {
		if !s.cur.sess.AskHighFrequency(s.rng) {
			continue
		}
		a := s.agents[id]
		b := a.SubmitOrders(t, s)
		if b.Empty() {
			continue
		}
		if err := s.process(t, a, b); err != nil {
			return err
		}
		accepted++
		if accepted >= cfg.MaxHighFrequencyOrders {
			break
		}
	}
	return nil
}

// process handles one batch: cancels first, then orders. A cancel can only
// reach orders resting before the batch.
func (s *Simulator) process(t int64, a agent.Agent, b agent.Batch) error {
	for _, c := range b.Cancels {
		if err := s.cancel(t, a, c); err != nil {
			return err
		}
	}
	for _, o := range b.Orders {
		if err := s.submit(t, a, o, true); err != nil {
			return err
		}
	}
	return nil
}

// local reports whether err is a per-order or per-cancel validation failure.
func local(err error) bool { return !simerr.IsFatal(err) }

func (s *Simulator) rejectOrder(a agent.Agent, o market.Order, err error) {
	s.stats.RejectedOrders++
	a.RejectedOrder(o, err)
}

func (s *Simulator) cancel(t int64, a agent.Agent, c market.Cancel) error {
	reject := func(reason string) {
		s.stats.RejectedCancels++
		a.RejectedCancel(c, &simerr.CancelValidationError{
			MarketID: int(c.MarketID), AgentID: int(a.ID()), OrderID: int64(c.OrderID), Reason: reason,
		})
	}
	if c.AgentID != a.ID() {
		reject("cancel issued on behalf of another agent")
		return nil
	}
	if _, ok := s.Market(c.MarketID); !ok {
		reject("unknown market")
		return nil
	}
	if !a.IsMarketAccessible(c.MarketID) {
		reject("market is not accessible")
		return nil
	}
	v := s.markets[c.MarketID]
	if err := s.cur.events.BeforeCancel(s.context(event.BeforeCancel, t, v), c); err != nil {
		return err
	}
	c.IssuedAt = t
	done, err := v.Cancel(c)
	if err != nil {
		if local(err) {
			s.stats.RejectedCancels++
			a.RejectedCancel(c, err)
			return s.drainInjected(t)
		}
		return err
	}
	s.stats.Cancels++
	if err := s.canceled(t, v, done); err != nil {
		return err
	}
	return s.drainInjected(t)
}

// canceled reports a removal to the sink, the owner and the hooks.
func (s *Simulator) canceled(t int64, v market.Venue, c market.Canceled) error {
	s.sink.Write(logs.NewCancelLog(c))
	if owner, ok := s.Agent(c.AgentID); ok {
		owner.CanceledOrder(c)
	}
	return s.cur.events.AfterCancel(s.context(event.AfterCancel, t, v), c)
}

// submit validates, hooks and places one order. Injected orders skip the
// accessibility check and the before-order hooks.
func (s *Simulator) submit(t int64, a agent.Agent, o market.Order, hooked bool) error {
	if o.AgentID != a.ID() {
		s.rejectOrder(a, o, &simerr.OrderValidationError{
			MarketID: int(o.MarketID), AgentID: int(a.ID()), Reason: "order submitted on behalf of another agent",
		})
		return nil
	}
	if _, ok := s.Market(o.MarketID); !ok {
		s.rejectOrder(a, o, &simerr.OrderValidationError{MarketID: int(o.MarketID), AgentID: int(a.ID()), Reason: "unknown market"})
		return nil
	}
	if hooked && !a.IsMarketAccessible(o.MarketID) {
		s.rejectOrder(a, o, &simerr.OrderValidationError{MarketID: int(o.MarketID), AgentID: int(a.ID()), Reason: "market is not accessible"})
		return nil
	}
	v := s.markets[o.MarketID]
	if hooked {
		var err error
		if o, err = s.cur.events.BeforeOrder(s.context(event.BeforeOrder, t, v), o); err != nil {
			return err
		}
	}

	rep, err := v.Submit(o)
	if err != nil {
		if local(err) {
			s.rejectOrder(a, o, err)
			return s.drainInjected(t)
		}
		if errors.Is(err, market.ErrNotStarted) {
			return simerr.Scheduling("simulator.submit", "market %d: %v", v.ID(), err)
		}
		return err
	}

	s.stats.Orders++
	s.sink.Write(logs.NewOrderLog(rep.Order))
	a.SubmittedOrder(rep.Order)
	for _, x := range rep.Executions {
		if err := s.settle(t, v, x); err != nil {
			return err
		}
	}
	if err := s.cur.events.AfterOrder(s.context(event.AfterOrder, t, v), rep.Order); err != nil {
		return err
	}
	return s.drainInjected(t)
}

// settle moves cash and assets for one execution and reports it.
func (s *Simulator) settle(t int64, v market.Venue, x market.Execution) error {
	buyer, okB := s.Agent(x.BuyAgentID)
	seller, okS := s.Agent(x.SellAgentID)
	if !okB || !okS {
		return simerr.Scheduling("simulator.settle", "execution between unknown agents %d and %d", x.BuyAgentID, x.SellAgentID)
	}
	notional := x.Price * float64(x.Volume)
	buyer.UpdateCashAmount(-notional)
	buyer.UpdateAssetVolume(x.MarketID, x.Volume)
	seller.UpdateCashAmount(notional)
	seller.UpdateAssetVolume(x.MarketID, -x.Volume)

	s.stats.Executions++
	s.stats.ExecutedVolume += x.Volume
	s.sink.Write(logs.NewExecutionLog(x))
	buyer.ExecutedOrder(x)
	if x.SellAgentID != x.BuyAgentID {
		seller.ExecutedOrder(x)
	}
	return s.cur.events.AfterExecution(s.context(event.AfterExecution, t, v), x)
}

// drainInjected submits the orders queued by InjectOrder effects, including
// any queued while draining.
func (s *Simulator) drainInjected(t int64) error {
	if s.draining {
		return nil
	}
	s.draining = true
	defer func() { s.draining = false }()

	for len(s.injected) > 0 {
		o := s.injected[0]
		s.injected = s.injected[1:]
		a, ok := s.Agent(o.AgentID)
		if !ok {
			return simerr.Scheduling("simulator.inject", "unknown agent %d", o.AgentID)
		}
		s.stats.InjectedOrders++
		s.logger.Debug("injecting order", zap.Int64("step", t), zap.Stringer("order", o))
		if err := s.submit(t, a, o, false); err != nil {
			return err
		}
	}
	return nil
}
