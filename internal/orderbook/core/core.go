package core

import "errors"

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrDuplicateID  = errors.New("duplicate order id")
	ErrNotFound     = errors.New("order not found")
)

// Fill represents a single fill from a match.
type Fill struct {
	MakerOrderID OrderID
	MakerOwner   OwnerID
	Price        PriceTicks
	Size         Size
}

// SubmitReport is returned after submitting an order.
type SubmitReport struct {
	OrderID   OrderID
	Remaining Size
	Fills     []Fill
	Rested    bool
}

// CancelReport is returned after canceling an order.
type CancelReport struct {
	OrderID      OrderID
	Owner        OwnerID
	CanceledSize Size
}

// Level is an aggregated price level.
type Level struct {
	Price  PriceTicks
	Volume Size
	Orders int
}

// Core is the deterministic order matching engine.
// It has no goroutines, mutexes, channels, or time calls.
type Core struct {
	ob *orderBook
}

// NewCore creates a new Core instance.
func NewCore() *Core {
	return &Core{ob: newOrderBook()}
}

func validate(o Order, kind OrderKind) error {
	if o.Kind != kind {
		return ErrInvalidOrder
	}
	if o.Size <= 0 {
		return ErrInvalidOrder
	}
	if kind == OrderKindLimit && o.Price <= 0 {
		return ErrInvalidOrder
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return ErrInvalidOrder
	}
	if o.TTL < 0 || o.Step < 0 {
		return ErrInvalidOrder
	}
	return nil
}

func (c *Core) admit(o Order, kind OrderKind) error {
	if err := validate(o, kind); err != nil {
		return err
	}
	if _, exists := c.ob.orders[o.ID]; exists {
		return ErrDuplicateID
	}
	return nil
}

// SubmitLimit matches a limit order against the opposite side and rests the remainder.
func (c *Core) SubmitLimit(o Order) (SubmitReport, []Event, error) {
	if err := c.admit(o, OrderKindLimit); err != nil {
		return SubmitReport{}, nil, err
	}

	remaining := o.Size
	limit := o.Price
	fills, evs := c.match(o, &remaining, &limit)

	rested := false
	if remaining > 0 {
		evs = append(evs, c.rest(o, remaining))
		rested = true
	}

	return SubmitReport{
		OrderID:   o.ID,
		Remaining: remaining,
		Fills:     fills,
		Rested:    rested,
	}, evs, nil
}

// Rest places a limit order on the book without crossing it. The book may be
// left crossed until Uncross is called.
func (c *Core) Rest(o Order) (SubmitReport, []Event, error) {
	if err := c.admit(o, OrderKindLimit); err != nil {
		return SubmitReport{}, nil, err
	}
	ev := c.rest(o, o.Size)
	return SubmitReport{OrderID: o.ID, Remaining: o.Size, Rested: true}, []Event{ev}, nil
}

func (c *Core) rest(o Order, remaining Size) Event {
	o.Size = remaining
	c.ob.addResting(o)
	return OrderRestedEvent{
		OrderID: o.ID, Owner: o.Owner, Side: o.Side,
		Price: o.Price, Size: remaining, Step: o.Step,
	}
}

// SubmitMarket submits a market order to the book. Any unfilled remainder is
// reported and dropped.
func (c *Core) SubmitMarket(o Order) (SubmitReport, []Event, error) {
	if err := c.admit(o, OrderKindMarket); err != nil {
		return SubmitReport{}, nil, err
	}

	remaining := o.Size
	fills, evs := c.match(o, &remaining, nil)

	return SubmitReport{
		OrderID:   o.ID,
		Remaining: remaining,
		Fills:     fills,
		Rested:    false,
	}, evs, nil
}

// Cancel cancels a resting order.
func (c *Core) Cancel(id OrderID, step int64) (CancelReport, []Event, error) {
	node, ok := c.ob.remove(id)
	if !ok {
		return CancelReport{}, nil, ErrNotFound
	}
	ev := OrderRemovedEvent{
		OrderID:   node.id,
		Reason:    RemoveReasonCanceled,
		Remaining: node.size,
		Price:     node.price,
		Side:      node.side,
		Owner:     node.owner,
		Step:      step,
		PlacedAt:  node.step,
		TTL:       node.ttl(),
	}
	return CancelReport{OrderID: id, Owner: node.owner, CanceledSize: node.size}, []Event{ev}, nil
}

// Expire removes every resting order whose time to live has elapsed by the
// end of step, in (expiry, order id) order.
func (c *Core) Expire(step int64) []Event {
	var evs []Event
	for _, node := range c.ob.popExpired(step) {
		evs = append(evs, OrderRemovedEvent{
			OrderID:   node.id,
			Reason:    RemoveReasonExpired,
			Remaining: node.size,
			Price:     node.price,
			Side:      node.side,
			Owner:     node.owner,
			Step:      step,
			PlacedAt:  node.step,
			TTL:       node.ttl(),
		})
	}
	return evs
}

// Uncross matches a crossed book until best bid < best ask. Each match trades
// at the price of whichever of the two orders arrived first.
func (c *Core) Uncross(step int64) []Event {
	var events []Event
	for {
		bl, al := c.ob.bids.bestLevel(), c.ob.asks.bestLevel()
		if bl == nil || al == nil || bl.price < al.price {
			return events
		}
		bid, ask := bl.head, al.head
		price := ask.price
		if bid.arrivedBefore(ask) {
			price = bid.price
		}

		traded := bid.size
		if ask.size < traded {
			traded = ask.size
		}
		events = append(events, TradeEvent{
			Price:       price,
			Size:        traded,
			Step:        step,
			BuyOrderID:  bid.id,
			BuyOwner:    bid.owner,
			SellOrderID: ask.id,
			SellOwner:   ask.owner,
		})
		events = append(events, c.reduce(bid, traded, step))
		events = append(events, c.reduce(ask, traded, step))
	}
}

// reduce takes traded off a resting order, removing it once filled.
func (c *Core) reduce(node *restingOrder, traded Size, step int64) Event {
	node.size -= traded
	if node.level != nil {
		node.level.totalVolume -= traded
	}
	if node.isFilled() {
		c.ob.remove(node.id)
		return OrderRemovedEvent{
			OrderID:   node.id,
			Reason:    RemoveReasonFilled,
			Remaining: 0,
			Price:     node.price,
			Side:      node.side,
			Owner:     node.owner,
			Step:      step,
		}
	}
	return OrderReducedEvent{
		OrderID:   node.id,
		Delta:     -traded,
		Remaining: node.size,
		Price:     node.price,
		Side:      node.side,
		Owner:     node.owner,
		Step:      step,
	}
}

// match consumes from opposite book. It mutates resting makers and emits events.
func (c *Core) match(taker Order, remaining *Size, limitPrice *PriceTicks) ([]Fill, []Event) {
	var (
		fills  []Fill
		events []Event
	)

	opp := c.ob.sideFor(taker.Side.Opposite())

	for *remaining > 0 {
		best := opp.bestLevel()
		if best == nil {
			break
		}

		// limit checks
		if limitPrice != nil {
			switch taker.Side {
			case SideBuy:
				if best.price > *limitPrice {
					return fills, events
				}
			case SideSell:
				if best.price < *limitPrice {
					return fills, events
				}
			}
		}

		maker := best.head
		traded := *remaining
		if maker.size < traded {
			traded = maker.size
		}
		*remaining -= traded

		fills = append(fills, Fill{
			MakerOrderID: maker.id,
			MakerOwner:   maker.owner,
			Price:        best.price,
			Size:         traded,
		})

		trade := TradeEvent{Price: best.price, Size: traded, Step: taker.Step}
		if taker.Side == SideBuy {
			trade.BuyOrderID, trade.BuyOwner = taker.ID, taker.Owner
			trade.SellOrderID, trade.SellOwner = maker.id, maker.owner
		} else {
			trade.BuyOrderID, trade.BuyOwner = maker.id, maker.owner
			trade.SellOrderID, trade.SellOwner = taker.ID, taker.Owner
		}
		events = append(events, trade, c.reduce(maker, traded, taker.Step))
	}

	return fills, events
}

// BestBid returns the highest resting bid price.
func (c *Core) BestBid() (PriceTicks, bool) {
	if l := c.ob.bids.bestLevel(); l != nil {
		return l.price, true
	}
	return 0, false
}

// BestAsk returns the lowest resting ask price.
func (c *Core) BestAsk() (PriceTicks, bool) {
	if l := c.ob.asks.bestLevel(); l != nil {
		return l.price, true
	}
	return 0, false
}

// Order returns a resting order by id.
func (c *Core) Order(id OrderID) (Order, bool) {
	node, ok := c.ob.orders[id]
	if !ok {
		return Order{}, false
	}
	return node.snapshot(), true
}

// Len returns the number of resting orders.
func (c *Core) Len() int { return len(c.ob.orders) }

// Levels returns the aggregated levels of one side, best price first.
func (c *Core) Levels(side Side) []Level {
	levels := c.ob.sideFor(side).sortedLevels()
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		n := 0
		for o := l.head; o != nil; o = o.next {
			n++
		}
		out = append(out, Level{Price: l.price, Volume: l.totalVolume, Orders: n})
	}
	return out
}

// Orders returns the resting orders of one side in priority order.
func (c *Core) Orders(side Side) []Order {
	var out []Order
	for _, l := range c.ob.sideFor(side).sortedLevels() {
		for o := l.head; o != nil; o = o.next {
			out = append(out, o.snapshot())
		}
	}
	return out
}
