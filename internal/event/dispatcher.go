package event

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/simerr"
)

var (
	ErrFrozen         = errors.New("event registration is frozen")
	ErrReentrant      = errors.New("registration during dispatch")
	ErrMissingHandler = errors.New("event does not implement the hook handler")
)

type registration struct {
	ev   Event
	hook Hook
}

// Dispatcher invokes registered handlers in registration order. Each
// handler's effects are validated as a batch and then applied before the next
// handler runs, so later handlers observe earlier effects.
type Dispatcher struct {
	regs        [numHookPoints][]registration
	applier     Applier
	logger      *zap.Logger
	frozen      bool
	dispatching bool
}

// NewDispatcher returns a dispatcher applying effects through a.
func NewDispatcher(a Applier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{applier: a, logger: logger}
}

// Register subscribes every hook of ev.
func (d *Dispatcher) Register(ev Event) error {
	if d.dispatching {
		return simerr.Scheduling("event.Register", "%v: %s", ErrReentrant, ev.Name())
	}
	if d.frozen {
		return simerr.Scheduling("event.Register", "%v: %s", ErrFrozen, ev.Name())
	}
	hooks := ev.Hooks()
	for _, h := range hooks {
		if h.Point >= numHookPoints {
			return simerr.Config(ev.Name(), "unknown hook point %d", h.Point)
		}
		if !implements(ev, h.Point) {
			return simerr.Config(ev.Name(), "%v: %v", ErrMissingHandler, h.Point)
		}
	}
	for _, h := range hooks {
		d.regs[h.Point] = append(d.regs[h.Point], registration{ev: ev, hook: h})
	}
	return nil
}

// Freeze closes registration.
func (d *Dispatcher) Freeze() { d.frozen = true }

func (d *Dispatcher) Frozen() bool { return d.frozen }

// Len returns the number of hooks registered at p.
func (d *Dispatcher) Len(p HookPoint) int { return len(d.regs[p]) }

type invoke func(ev Event) ([]Effect, error)

func (d *Dispatcher) dispatch(ctx *Context, order *market.Order, call invoke) error {
	regs := d.regs[ctx.Point]
	if len(regs) == 0 {
		return nil
	}
	d.dispatching = true
	defer func() { d.dispatching = false }()

	for _, r := range regs {
		if !r.hook.matches(ctx) {
			continue
		}
		effects, err := call(r.ev)
		if err != nil {
			return d.fail(ctx, r.ev, err)
		}
		for _, eff := range effects {
			if err := d.validate(ctx, eff, order); err != nil {
				return d.fail(ctx, r.ev, err)
			}
		}
		for _, eff := range effects {
			if adj, ok := eff.(AdjustOrderPrice); ok {
				order.Price = adj.Price
			} else if err := d.applier.ApplyEffect(ctx, eff); err != nil {
				return d.fail(ctx, r.ev, err)
			}
			d.logger.Debug("effect applied",
				zap.String("event", r.ev.Name()),
				zap.Stringer("hook", ctx.Point),
				zap.Int64("step", ctx.Step),
				zap.Any("effect", eff),
			)
		}
	}
	return nil
}

func (d *Dispatcher) validate(ctx *Context, eff Effect, order *market.Order) error {
	switch e := eff.(type) {
	case nil:
		return errors.New("nil effect")
	case AdjustOrderPrice:
		return validateAdjust(ctx, e, order)
	default:
		return d.applier.ValidateEffect(ctx, eff)
	}
}

func (d *Dispatcher) fail(ctx *Context, ev Event, err error) error {
	return &simerr.EventDispatchError{Event: ev.Name(), Hook: ctx.Point.String(), Step: ctx.Step, Err: err}
}

func (d *Dispatcher) check(ctx *Context, p HookPoint) error {
	if ctx.Point != p {
		return simerr.Scheduling("event.Dispatch", "context point %v, dispatching %v", ctx.Point, p)
	}
	return nil
}

func (d *Dispatcher) BeforeSession(ctx *Context) error {
	if err := d.check(ctx, BeforeSession); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(BeforeSessionHandler).OnBeforeSession(ctx)
	})
}

func (d *Dispatcher) AfterSession(ctx *Context) error {
	if err := d.check(ctx, AfterSession); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(AfterSessionHandler).OnAfterSession(ctx)
	})
}

func (d *Dispatcher) BeforeStep(ctx *Context) error {
	if err := d.check(ctx, BeforeStep); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(BeforeStepHandler).OnBeforeStep(ctx)
	})
}

// BeforeOrder returns the order with any AdjustOrderPrice effects applied.
func (d *Dispatcher) BeforeOrder(ctx *Context, order market.Order) (market.Order, error) {
	if err := d.check(ctx, BeforeOrder); err != nil {
		return order, err
	}
	err := d.dispatch(ctx, &order, func(ev Event) ([]Effect, error) {
		return ev.(BeforeOrderHandler).OnBeforeOrder(ctx, order)
	})
	return order, err
}

func (d *Dispatcher) AfterOrder(ctx *Context, order market.Order) error {
	if err := d.check(ctx, AfterOrder); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(AfterOrderHandler).OnAfterOrder(ctx, order)
	})
}

func (d *Dispatcher) BeforeCancel(ctx *Context, c market.Cancel) error {
	if err := d.check(ctx, BeforeCancel); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(BeforeCancelHandler).OnBeforeCancel(ctx, c)
	})
}

func (d *Dispatcher) AfterCancel(ctx *Context, c market.Canceled) error {
	if err := d.check(ctx, AfterCancel); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(AfterCancelHandler).OnAfterCancel(ctx, c)
	})
}

func (d *Dispatcher) AfterExecution(ctx *Context, exec market.Execution) error {
	if err := d.check(ctx, AfterExecution); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(AfterExecutionHandler).OnAfterExecution(ctx, exec)
	})
}

func (d *Dispatcher) AfterStep(ctx *Context) error {
	if err := d.check(ctx, AfterStep); err != nil {
		return err
	}
	return d.dispatch(ctx, nil, func(ev Event) ([]Effect, error) {
		return ev.(AfterStepHandler).OnAfterStep(ctx)
	})
}

// String describes the registrations, for logging.
func (d *Dispatcher) String() string {
	n := 0
	for _, r := range d.regs {
		n += len(r)
	}
	return fmt.Sprintf("dispatcher(%d hooks, frozen=%v)", n, d.frozen)
}
