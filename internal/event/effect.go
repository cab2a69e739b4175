package event

import (
	"fmt"
	"math"

	"github.com/zappabad/marketsim/internal/market"
)

// Effect is a state change requested by a handler.
type Effect interface {
	isEffect()
}

// ScaleFundamental multiplies a market's fundamental price at the current step.
type ScaleFundamental struct {
	Market market.ID
	Scale  float64
}

// SetMarketRunning halts or resumes trading on a market.
type SetMarketRunning struct {
	Market  market.ID
	Running bool
}

// AdjustOrderPrice replaces the limit price of the order being submitted.
// Only valid at BeforeOrder.
type AdjustOrderPrice struct {
	Price float64
}

// InjectOrder submits an order on behalf of Order.AgentID once the current
// dispatch completes.
type InjectOrder struct {
	Order market.Order
}

func (ScaleFundamental) isEffect() {}
func (SetMarketRunning) isEffect() {}
func (AdjustOrderPrice) isEffect() {}
func (InjectOrder) isEffect()      {}

func (e ScaleFundamental) String() string {
	return fmt.Sprintf("scale fundamental of market %d by %g", e.Market, e.Scale)
}

func (e SetMarketRunning) String() string {
	return fmt.Sprintf("set market %d running=%v", e.Market, e.Running)
}

func (e AdjustOrderPrice) String() string { return fmt.Sprintf("adjust order price to %g", e.Price) }

func (e InjectOrder) String() string { return "inject " + e.Order.String() }

// Applier validates and applies kernel-owned effects. The dispatcher handles
// AdjustOrderPrice itself.
type Applier interface {
	ValidateEffect(ctx *Context, eff Effect) error
	ApplyEffect(ctx *Context, eff Effect) error
}

func validateAdjust(ctx *Context, e AdjustOrderPrice, order *market.Order) error {
	if ctx.Point != BeforeOrder || order == nil {
		return fmt.Errorf("%v is only allowed at %v, not %v", e, BeforeOrder, ctx.Point)
	}
	if order.Kind != market.KindLimit {
		return fmt.Errorf("%v: order is not a limit order", e)
	}
	if math.IsNaN(e.Price) || math.IsInf(e.Price, 0) || e.Price <= 0 {
		return fmt.Errorf("%v: price must be positive and finite", e)
	}
	return nil
}
