// Package logs carries the simulation record stream: typed records, the
// Processor that consumes them and the sinks that decide when records reach
// processors.
package logs

import (
	"math"

	"github.com/zappabad/marketsim/internal/market"
)

// Record is one entry of the record stream. Records are value snapshots; they
// never reference live kernel state.
type Record interface {
	isRecord()
	Kind() string
}

// OrderLog is written for every accepted order.
type OrderLog struct {
	OrderID   market.OrderID
	MarketID  market.ID
	Step      int64
	AgentID   market.AgentID
	IsBuy     bool
	OrderKind market.Kind
	Price     float64 // limit only, NaN for market orders
	Volume    int64
	TTL       int64
}

// CancelLog is written when a resting order leaves the book without trading,
// by agent request or by expiry.
type CancelLog struct {
	OrderID    market.OrderID
	MarketID   market.ID
	CancelStep int64
	OrderStep  int64
	AgentID    market.AgentID
	IsBuy      bool
	Price      float64
	Volume     int64
	TTL        int64
	Reason     market.CancelReason
}

// ExecutionLog is written for every trade.
type ExecutionLog struct {
	MarketID    market.ID
	Step        int64
	BuyAgentID  market.AgentID
	SellAgentID market.AgentID
	BuyOrderID  market.OrderID
	SellOrderID market.OrderID
	Price       float64
	Volume      int64
}

// SimulationBeginLog opens the stream.
type SimulationBeginLog struct {
	RunID    string
	Seed     uint64
	Markets  int
	Agents   int
	Sessions int
	Steps    int64
	Step     int64 // always 0
}

// SimulationEndLog closes the stream.
type SimulationEndLog struct {
	RunID      string
	Step       int64 // total steps of every session
	Steps      int64 // steps actually run
	Orders     int64
	Executions int64
}

// SessionBeginLog opens a session.
type SessionBeginLog struct {
	SessionID int
	Name      string
	StartStep int64
	Steps     int64
	WithPrint bool
}

// SessionEndLog closes a session.
type SessionEndLog struct {
	SessionID int
	Name      string
	EndStep   int64
	WithPrint bool
}

// MarketStepBeginLog is written per market once its step has begun.
type MarketStepBeginLog struct {
	SessionID   int
	MarketID    market.ID
	MarketName  string
	Step        int64
	MarketPrice float64
	MidPrice    float64 // NaN without both sides
	LastPrice   float64 // NaN before the first trade
}

// MarketStepEndLog summarises a market at the end of a step.
type MarketStepEndLog struct {
	SessionID        int
	MarketID         market.ID
	MarketName       string
	Step             int64
	MarketPrice      float64
	FundamentalPrice float64
	MidPrice         float64 // NaN without both sides
	LastPrice        float64 // NaN before the first trade
	Volume           int64
	BuyOrders        int64
	SellOrders       int64
	Running          bool
	WithPrint        bool
}

func (OrderLog) isRecord()           {}
func (CancelLog) isRecord()          {}
func (ExecutionLog) isRecord()       {}
func (SimulationBeginLog) isRecord() {}
func (SimulationEndLog) isRecord()   {}
func (SessionBeginLog) isRecord()    {}
func (SessionEndLog) isRecord()      {}
func (MarketStepBeginLog) isRecord() {}
func (MarketStepEndLog) isRecord()   {}

func (OrderLog) Kind() string           { return "order" }
func (CancelLog) Kind() string          { return "cancel" }
func (ExecutionLog) Kind() string       { return "execution" }
func (SimulationBeginLog) Kind() string { return "simulation_begin" }
func (SimulationEndLog) Kind() string   { return "simulation_end" }
func (SessionBeginLog) Kind() string    { return "session_begin" }
func (SessionEndLog) Kind() string      { return "session_end" }
func (MarketStepBeginLog) Kind() string { return "market_step_begin" }
func (MarketStepEndLog) Kind() string   { return "market_step_end" }

// NewOrderLog records an accepted order.
func NewOrderLog(o market.Order) OrderLog {
	price := o.Price
	if o.Kind == market.KindMarket {
		price = math.NaN()
	}
	return OrderLog{
		OrderID:   o.ID,
		MarketID:  o.MarketID,
		Step:      o.PlacedAt,
		AgentID:   o.AgentID,
		IsBuy:     o.IsBuy,
		OrderKind: o.Kind,
		Price:     price,
		Volume:    o.Volume,
		TTL:       o.TTL,
	}
}

// NewCancelLog records a removal.
func NewCancelLog(c market.Canceled) CancelLog {
	return CancelLog{
		OrderID:    c.OrderID,
		MarketID:   c.MarketID,
		CancelStep: c.Step,
		OrderStep:  c.PlacedAt,
		AgentID:    c.AgentID,
		IsBuy:      c.IsBuy,
		Price:      c.Price,
		Volume:     c.Volume,
		TTL:        c.TTL,
		Reason:     c.Reason,
	}
}

// NewExecutionLog records a trade.
func NewExecutionLog(x market.Execution) ExecutionLog {
	return ExecutionLog{
		MarketID:    x.MarketID,
		Step:        x.Step,
		BuyAgentID:  x.BuyAgentID,
		SellAgentID: x.SellAgentID,
		BuyOrderID:  x.BuyOrderID,
		SellOrderID: x.SellOrderID,
		Price:       x.Price,
		Volume:      x.Volume,
	}
}

func orNaN(v float64, ok bool) float64 {
	if !ok {
		return math.NaN()
	}
	return v
}

// NewMarketStepBeginLog records the prices m opens its step with, after any
// before-step event has run.
func NewMarketStepBeginLog(session int, m market.Reader) MarketStepBeginLog {
	return MarketStepBeginLog{
		SessionID:   session,
		MarketID:    m.ID(),
		MarketName:  m.Name(),
		Step:        m.Step(),
		MarketPrice: m.MarketPrice(),
		MidPrice:    orNaN(m.MidPrice()),
		LastPrice:   orNaN(m.LastExecutedPrice()),
	}
}

// NewMarketStepEndLog snapshots m.
func NewMarketStepEndLog(session int, withPrint bool, m market.Reader) MarketStepEndLog {
	buys, sells := m.OrderCounts()
	return MarketStepEndLog{
		SessionID:        session,
		MarketID:         m.ID(),
		MarketName:       m.Name(),
		Step:             m.Step(),
		MarketPrice:      m.MarketPrice(),
		FundamentalPrice: m.FundamentalPrice(),
		MidPrice:         orNaN(m.MidPrice()),
		LastPrice:        orNaN(m.LastExecutedPrice()),
		Volume:           m.ExecutedVolume(),
		BuyOrders:        buys,
		SellOrders:       sells,
		Running:          m.IsRunning(),
		WithPrint:        withPrint,
	}
}
