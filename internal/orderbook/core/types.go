package core

import (
	"math"
	"strconv"
)

// Side represents the order side: buy or sell.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind represents the order type: limit or market.
type OrderKind uint8

const (
	OrderKindLimit OrderKind = iota
	OrderKindMarket
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindLimit:
		return "LIMIT"
	case OrderKindMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// PriceTicks represents price in integer ticks.
type PriceTicks int64

func (p PriceTicks) String() string { return strconv.FormatInt(int64(p), 10) }

// Size represents order quantity.
type Size int64

func (s Size) String() string { return strconv.FormatInt(int64(s), 10) }

// OrderID uniquely identifies an order. IDs are assigned in arrival order,
// so a lower ID always means an earlier arrival.
type OrderID int64

// OwnerID identifies the agent that placed the order.
type OwnerID int64

// NoExpiry is the TTL of an order that rests until filled or canceled.
const NoExpiry int64 = math.MaxInt64

// Order is an input/value object (safe to pass around).
// Core mutates its own internal resting orders, not this.
type Order struct {
	ID    OrderID
	Owner OwnerID
	Side  Side
	Kind  OrderKind
	Price PriceTicks // limit only
	Size  Size       // requested size (for submits); remaining size (in reports)
	Step  int64      // arrival step
	TTL   int64      // steps the order may rest; NoExpiry for none
}

// IsFilled returns true if the order has no remaining size.
func (o Order) IsFilled() bool { return o.Size <= 0 }

// ExpiresAt returns the step at whose end the order is removed if still resting.
func (o Order) ExpiresAt() int64 {
	if o.TTL == NoExpiry || o.Step > math.MaxInt64-o.TTL {
		return NoExpiry
	}
	return o.Step + o.TTL
}
