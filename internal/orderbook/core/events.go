package core

// Event is the interface for all orderbook events.
type Event interface {
	isEvent()
}

// RemoveReason indicates why an order was removed from the book.
type RemoveReason uint8

const (
	RemoveReasonFilled RemoveReason = iota
	RemoveReasonCanceled
	RemoveReasonExpired
)

func (r RemoveReason) String() string {
	switch r {
	case RemoveReasonFilled:
		return "FILLED"
	case RemoveReasonCanceled:
		return "CANCELED"
	case RemoveReasonExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// TradeEvent is emitted when two orders match.
type TradeEvent struct {
	Price PriceTicks
	Size  Size
	Step  int64

	BuyOrderID  OrderID
	BuyOwner    OwnerID
	SellOrderID OrderID
	SellOwner   OwnerID
}

func (TradeEvent) isEvent() {}

// OrderRestedEvent is emitted when an order rests on the book.
type OrderRestedEvent struct {
	OrderID OrderID
	Owner   OwnerID
	Side    Side
	Price   PriceTicks
	Size    Size
	Step    int64
}

func (OrderRestedEvent) isEvent() {}

// OrderReducedEvent is emitted when a resting order is partially filled.
type OrderReducedEvent struct {
	OrderID   OrderID
	Delta     Size // negative number (e.g. -5)
	Remaining Size
	Price     PriceTicks
	Side      Side
	Owner     OwnerID
	Step      int64
}

func (OrderReducedEvent) isEvent() {}

// OrderRemovedEvent is emitted when an order is fully removed from the book.
type OrderRemovedEvent struct {
	OrderID   OrderID
	Reason    RemoveReason
	Remaining Size // 0 for filled; >0 for cancel and expiry
	Price     PriceTicks
	Side      Side
	Owner     OwnerID
	Step      int64
	PlacedAt  int64 // step the order entered the book
	TTL       int64
}

func (OrderRemovedEvent) isEvent() {}
