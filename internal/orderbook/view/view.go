package view

import (
	"sort"

	"github.com/zappabad/marketsim/internal/orderbook/core"
)

// RestingOrder represents a snapshot of a resting order.
type RestingOrder struct {
	ID    core.OrderID
	Owner core.OwnerID
	Side  core.Side
	Price core.PriceTicks
	Size  core.Size
	Step  int64
}

// Level represents aggregate size at a price level.
type Level struct {
	Price core.PriceTicks
	Size  core.Size
}

type orderState struct {
	owner core.OwnerID
	side  core.Side
	price core.PriceTicks
	size  core.Size
	step  int64
}

// BookView is the read model of one order book, rebuilt from core events.
// It is owned by a single market and returns copies (not internal references).
type BookView struct {
	orders map[core.OrderID]orderState
	bids   map[core.PriceTicks]core.Size
	asks   map[core.PriceTicks]core.Size
	tape   *TradeTape
}

// NewBookView creates a new BookView with the given trade tape capacity.
func NewBookView(tapeCapacity int) *BookView {
	return &BookView{
		orders: map[core.OrderID]orderState{},
		bids:   map[core.PriceTicks]core.Size{},
		asks:   map[core.PriceTicks]core.Size{},
		tape:   NewTradeTape(tapeCapacity),
	}
}

// Apply processes an event and updates the view accordingly.
func (v *BookView) Apply(ev core.Event) {
	switch e := ev.(type) {
	case core.TradeEvent:
		v.tape.Append(e)

	case core.OrderRestedEvent:
		v.orders[e.OrderID] = orderState{
			owner: e.Owner,
			side:  e.Side,
			price: e.Price,
			size:  e.Size,
			step:  e.Step,
		}
		if e.Side == core.SideBuy {
			v.bids[e.Price] += e.Size
		} else {
			v.asks[e.Price] += e.Size
		}

	case core.OrderReducedEvent:
		st, ok := v.orders[e.OrderID]
		if !ok {
			return
		}
		// delta is negative; update totals by delta
		if st.side == core.SideBuy {
			v.bids[st.price] += e.Delta
			if v.bids[st.price] <= 0 {
				delete(v.bids, st.price)
			}
		} else {
			v.asks[st.price] += e.Delta
			if v.asks[st.price] <= 0 {
				delete(v.asks, st.price)
			}
		}
		st.size = e.Remaining
		v.orders[e.OrderID] = st

	case core.OrderRemovedEvent:
		st, ok := v.orders[e.OrderID]
		if ok {
			if st.side == core.SideBuy {
				v.bids[st.price] -= st.size
				if v.bids[st.price] <= 0 {
					delete(v.bids, st.price)
				}
			} else {
				v.asks[st.price] -= st.size
				if v.asks[st.price] <= 0 {
					delete(v.asks, st.price)
				}
			}
			delete(v.orders, e.OrderID)
		}
	}
}

// Levels returns aggregate size at each price level, sorted best->worst.
// Returns a copy (not internal references).
func (v *BookView) Levels(side core.Side) []Level {
	var src map[core.PriceTicks]core.Size
	if side == core.SideBuy {
		src = v.bids
	} else {
		src = v.asks
	}

	out := make([]Level, 0, len(src))
	for p, s := range src {
		out = append(out, Level{Price: p, Size: s})
	}

	sort.Slice(out, func(i, j int) bool {
		if side == core.SideBuy {
			return out[i].Price > out[j].Price // best bid is highest
		}
		return out[i].Price < out[j].Price // best ask is lowest
	})
	return out
}

// Orders returns all resting orders on a side, sorted by price (best first), then step, then id.
// Returns a copy (not internal references).
func (v *BookView) Orders(side core.Side) []RestingOrder {
	out := make([]RestingOrder, 0, len(v.orders))
	for id, st := range v.orders {
		if st.side != side {
			continue
		}
		out = append(out, RestingOrder{
			ID:    id,
			Owner: st.owner,
			Side:  st.side,
			Price: st.price,
			Size:  st.size,
			Step:  st.step,
		})
	}

	// deterministic ordering for callers: best price then time then id
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			if side == core.SideBuy {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		}
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// TradesLast returns the last n trades in chronological order.
// Returns a copy (not internal references).
func (v *BookView) TradesLast(n int) []core.TradeEvent {
	return v.tape.Last(n)
}

// Best returns the best price on a side.
func (v *BookView) Best(side core.Side) (core.PriceTicks, bool) {
	src := v.asks
	if side == core.SideBuy {
		src = v.bids
	}
	var (
		best  core.PriceTicks
		found bool
	)
	for p := range src {
		if !found || (side == core.SideBuy && p > best) || (side == core.SideSell && p < best) {
			best, found = p, true
		}
	}
	return best, found
}

// Len returns the number of resting orders.
func (v *BookView) Len() int { return len(v.orders) }

// OwnedBy reports whether id rests on the book and belongs to owner.
func (v *BookView) OwnedBy(id core.OrderID, owner core.OwnerID) (RestingOrder, bool) {
	st, ok := v.orders[id]
	if !ok || st.owner != owner {
		return RestingOrder{}, false
	}
	return RestingOrder{ID: id, Owner: st.owner, Side: st.side, Price: st.price, Size: st.size, Step: st.step}, true
}

// TradeCount returns the number of trades ever applied.
func (v *BookView) TradeCount() int64 { return v.tape.Total() }
