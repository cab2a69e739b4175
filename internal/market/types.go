package market

import (
	"fmt"

	"github.com/zappabad/marketsim/internal/orderbook/core"
)

// ID uniquely identifies a market within a simulation.
type ID int

// AgentID uniquely identifies an agent within a simulation.
type AgentID int

// OrderID is assigned by the kernel on acceptance; lower ids arrived earlier.
type OrderID = core.OrderID

// Kind is the order type.
type Kind = core.OrderKind

const (
	KindLimit  Kind = core.OrderKindLimit
	KindMarket Kind = core.OrderKindMarket
)

// GoodTillCancel is the TTL of an order that never expires.
const GoodTillCancel = core.NoExpiry

// Order is an agent's intent to trade. ID and PlacedAt are zero until the
// market accepts the order.
type Order struct {
	ID       OrderID
	MarketID ID
	AgentID  AgentID
	IsBuy    bool
	Kind     Kind
	Price    float64 // limit only
	Volume   int64
	TTL      int64
	PlacedAt int64
}

// NewLimitOrder builds a limit order intent.
func NewLimitOrder(agent AgentID, market ID, isBuy bool, price float64, volume, ttl int64) Order {
	return Order{MarketID: market, AgentID: agent, IsBuy: isBuy, Kind: KindLimit, Price: price, Volume: volume, TTL: ttl}
}

// NewMarketOrder builds a market order intent. Market orders never rest, so
// their TTL is irrelevant.
func NewMarketOrder(agent AgentID, market ID, isBuy bool, volume int64) Order {
	return Order{MarketID: market, AgentID: agent, IsBuy: isBuy, Kind: KindMarket, Volume: volume, TTL: GoodTillCancel}
}

func (o Order) side() core.Side {
	if o.IsBuy {
		return core.SideBuy
	}
	return core.SideSell
}

func (o Order) String() string {
	side := "sell"
	if o.IsBuy {
		side = "buy"
	}
	if o.Kind == KindMarket {
		return fmt.Sprintf("order#%d market %d agent %d %s MARKET x%d", o.ID, o.MarketID, o.AgentID, side, o.Volume)
	}
	return fmt.Sprintf("order#%d market %d agent %d %s LIMIT %g x%d", o.ID, o.MarketID, o.AgentID, side, o.Price, o.Volume)
}

// Cancel asks for a resting order to be removed. IssuedAt is set by the kernel.
type Cancel struct {
	OrderID  OrderID
	MarketID ID
	AgentID  AgentID
	IssuedAt int64
}

// NewCancel builds a cancel intent for order.
func NewCancel(order Order) Cancel {
	return Cancel{OrderID: order.ID, MarketID: order.MarketID, AgentID: order.AgentID}
}

// CancelReason tells an agent-issued cancel from a TTL expiry.
type CancelReason uint8

const (
	ReasonAgent CancelReason = iota
	ReasonExpiry
)

func (r CancelReason) String() string {
	switch r {
	case ReasonAgent:
		return "agent"
	case ReasonExpiry:
		return "expiry"
	default:
		return "unknown"
	}
}

// Canceled describes an order removed without execution.
type Canceled struct {
	OrderID  OrderID
	MarketID ID
	AgentID  AgentID
	IsBuy    bool
	Price    float64
	Volume   int64 // remaining volume at removal
	PlacedAt int64
	TTL      int64
	Step     int64
	Reason   CancelReason
}

// Execution is one match between a buy and a sell order.
type Execution struct {
	MarketID    ID
	BuyOrderID  OrderID
	SellOrderID OrderID
	BuyAgentID  AgentID
	SellAgentID AgentID
	Price       float64
	Volume      int64
	Step        int64
}

// Level is aggregated volume at one price.
type Level struct {
	Price  float64
	Volume int64
}

// RestingOrder is a snapshot of an order on the book.
type RestingOrder struct {
	OrderID  OrderID
	AgentID  AgentID
	IsBuy    bool
	Price    float64
	Volume   int64
	PlacedAt int64
}

// Snapshot is a copy of a book's state, comparable with reflect.DeepEqual.
type Snapshot struct {
	Step int64
	Buy  []RestingOrder
	Sell []RestingOrder
}

// SubmitReport is returned for an accepted order.
type SubmitReport struct {
	Order      Order // as accepted: id, placement step and tick-adjusted price set
	Executions []Execution
	Remaining  int64
	Rested     bool
}

// Quote holds the best bid/ask and last trade of a market.
type Quote struct {
	BidPrice  float64
	BidVolume int64
	BidOK     bool
	AskPrice  float64
	AskVolume int64
	AskOK     bool
	LastPrice float64
	LastStep  int64
	HasLast   bool
}
