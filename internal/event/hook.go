// Package event lets pluggable behaviors observe and alter the simulation at
// fixed lifecycle points. Handlers never mutate kernel state; they return
// Effects that the kernel validates and applies.
package event

import (
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
)

// HookPoint is a lifecycle location in the session/step pipeline.
type HookPoint uint8

const (
	BeforeSession HookPoint = iota
	AfterSession
	BeforeStep
	BeforeOrder
	AfterOrder
	BeforeCancel
	AfterCancel
	AfterExecution
	AfterStep
	numHookPoints
)

func (p HookPoint) String() string {
	switch p {
	case BeforeSession:
		return "before_session"
	case AfterSession:
		return "after_session"
	case BeforeStep:
		return "before_step"
	case BeforeOrder:
		return "before_order"
	case AfterOrder:
		return "after_order"
	case BeforeCancel:
		return "before_cancel"
	case AfterCancel:
		return "after_cancel"
	case AfterExecution:
		return "after_execution"
	case AfterStep:
		return "after_step"
	default:
		return "unknown"
	}
}

// Hook subscribes an event to one point. Empty filters match everything.
type Hook struct {
	Point    HookPoint
	Markets  []market.ID
	Steps    []int64
	Sessions []int
}

func (h Hook) matches(ctx *Context) bool {
	if len(h.Sessions) > 0 && !slices.Contains(h.Sessions, ctx.Session.ID) {
		return false
	}
	if len(h.Steps) > 0 && !slices.Contains(h.Steps, ctx.Step) {
		return false
	}
	if len(h.Markets) > 0 {
		if ctx.Market == nil || !slices.Contains(h.Markets, ctx.Market.ID()) {
			return false
		}
	}
	return true
}

// StepRange returns the steps [from, from+n).
func StepRange(from, n int64) []int64 {
	out := make([]int64, 0, max(n, 0))
	for i := int64(0); i < n; i++ {
		out = append(out, from+i)
	}
	return out
}

// Session describes the session an event instance belongs to.
type Session struct {
	ID        int
	Name      string
	StartStep int64
	Steps     int64
}

// Env is what an event receives at setup.
type Env struct {
	ID      int
	Name    string
	PRNG    *rand.Rand
	Session Session
	Markets []market.Reader
	Agents  []market.AgentID
	Logger  *zap.Logger
}

// MarketByName finds a market by name.
func (e Env) MarketByName(name string) (market.Reader, bool) {
	for _, m := range e.Markets {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Event is a registered behavior. It also implements one handler interface
// per hook point it subscribes to.
type Event interface {
	Name() string
	Setup(s settings.Settings, env Env) error
	Hooks() []Hook
}

// View gives handlers read access to every market.
type View interface {
	Market(id market.ID) (market.Reader, bool)
	Markets() []market.Reader
}

// Context is passed to every handler.
type Context struct {
	Point   HookPoint
	Session Session
	Step    int64
	Market  market.Reader // nil at session hooks
	View    View
}

type (
	BeforeSessionHandler interface {
		OnBeforeSession(ctx *Context) ([]Effect, error)
	}
	AfterSessionHandler interface {
		OnAfterSession(ctx *Context) ([]Effect, error)
	}
	BeforeStepHandler interface {
		OnBeforeStep(ctx *Context) ([]Effect, error)
	}
	BeforeOrderHandler interface {
		OnBeforeOrder(ctx *Context, order market.Order) ([]Effect, error)
	}
	AfterOrderHandler interface {
		OnAfterOrder(ctx *Context, order market.Order) ([]Effect, error)
	}
	BeforeCancelHandler interface {
		OnBeforeCancel(ctx *Context, cancel market.Cancel) ([]Effect, error)
	}
	AfterCancelHandler interface {
		OnAfterCancel(ctx *Context, canceled market.Canceled) ([]Effect, error)
	}
	AfterExecutionHandler interface {
		OnAfterExecution(ctx *Context, exec market.Execution) ([]Effect, error)
	}
	AfterStepHandler interface {
		OnAfterStep(ctx *Context) ([]Effect, error)
	}
)

// implements reports whether ev has the handler for p.
func implements(ev Event, p HookPoint) bool {
	switch p {
	case BeforeSession:
		_, ok := ev.(BeforeSessionHandler)
		return ok
	case AfterSession:
		_, ok := ev.(AfterSessionHandler)
		return ok
	case BeforeStep:
		_, ok := ev.(BeforeStepHandler)
		return ok
	case BeforeOrder:
		_, ok := ev.(BeforeOrderHandler)
		return ok
	case AfterOrder:
		_, ok := ev.(AfterOrderHandler)
		return ok
	case BeforeCancel:
		_, ok := ev.(BeforeCancelHandler)
		return ok
	case AfterCancel:
		_, ok := ev.(AfterCancelHandler)
		return ok
	case AfterExecution:
		_, ok := ev.(AfterExecutionHandler)
		return ok
	case AfterStep:
		_, ok := ev.(AfterStepHandler)
		return ok
	default:
		return false
	}
}
