package market

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/zappabad/marketsim/internal/orderbook/core"
	"github.com/zappabad/marketsim/internal/orderbook/view"
	"github.com/zappabad/marketsim/internal/simerr"
)

var (
	ErrFutureStep = errors.New("cannot refer to a future step")
	ErrNotStarted = errors.New("market has not started")
)

// Config holds the per-market settings.
type Config struct {
	// TickSize is the price increment; limit prices are rounded to it.
	TickSize float64
	// MarketPrice is the initial market price. Zero falls back to FundamentalPrice.
	MarketPrice float64
	// FundamentalPrice is the initial fundamental price.
	FundamentalPrice float64
	// OutstandingShares weighs the market inside an index. Zero means unknown.
	OutstandingShares int64
	// TapeSize is how many recent executions readers can see.
	TapeSize int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickSize: 1.0,
		TapeSize: 1000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.TickSize > 0) || math.IsInf(c.TickSize, 0) {
		return simerr.Config("tickSize", "must be a positive finite number, got %v", c.TickSize)
	}
	if c.MarketPrice < 0 || c.FundamentalPrice < 0 {
		return simerr.Config("marketPrice", "prices must not be negative")
	}
	if c.MarketPrice == 0 && c.FundamentalPrice == 0 {
		return simerr.Config("fundamentalPrice", "fundamentalPrice or marketPrice is required")
	}
	if c.OutstandingShares < 0 {
		return simerr.Config("outstandingShares", "must not be negative")
	}
	return nil
}

// Sequence hands out order ids shared by every market of a simulation, so ids
// follow global acceptance order.
type Sequence struct {
	last OrderID
}

// Next returns the next id.
func (s *Sequence) Next() OrderID {
	s.last++
	return s.last
}

// Market is one order book with its matching engine and price history.
// It is driven by a single goroutine (the simulator) and is not safe for
// concurrent use.
type Market struct {
	id   ID
	name string
	cfg  Config
	tick decimal.Decimal

	book *core.Core
	view *view.BookView
	ids  *Sequence

	step      int64
	executing bool // session flag
	running   bool // cleared by trading halts
	derived   bool // market price set by an index, not by trades

	hist history
}

// New creates a market. A nil seq gives the market its own id sequence.
func New(id ID, name string, cfg Config, seq *Sequence) (*Market, error) {
	if cfg.TapeSize <= 0 {
		cfg.TapeSize = DefaultConfig().TapeSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if seq == nil {
		seq = &Sequence{}
	}
	return &Market{
		id:        id,
		name:      name,
		cfg:       cfg,
		tick:      decimal.NewFromFloat(cfg.TickSize),
		book:      core.NewCore(),
		view:      view.NewBookView(cfg.TapeSize),
		ids:       seq,
		step:      -1,
		executing: true,
		running:   true,
	}, nil
}

func (m *Market) ID() ID                   { return m.id }
func (m *Market) Name() string             { return m.name }
func (m *Market) TickSize() float64        { return m.cfg.TickSize }
func (m *Market) OutstandingShares() int64 { return m.cfg.OutstandingShares }
func (m *Market) Step() int64              { return m.step }

// IsRunning reports whether orders currently cross: the session allows
// execution and no halt is in force.
func (m *Market) IsRunning() bool { return m.executing && m.running }

// IsHalted reports whether a halt is in force.
func (m *Market) IsHalted() bool { return !m.running }

// SetExecution sets the session's execution flag.
func (m *Market) SetExecution(on bool) { m.executing = on }

// SetRunning halts (false) or resumes (true) trading.
func (m *Market) SetRunning(on bool) { m.running = on }

var maxTicks = decimal.NewFromInt(math.MaxInt64)

// ToTicks converts a price to a tick level: buy prices round down, sell prices
// round up. Levels beyond the int64 range saturate at math.MaxInt64.
func (m *Market) ToTicks(price float64, isBuy bool) int64 {
	t, ok := m.toTicks(price, isBuy)
	if !ok {
		return math.MaxInt64
	}
	return t
}

func (m *Market) toTicks(price float64, isBuy bool) (int64, bool) {
	d := decimal.NewFromFloat(price).Div(m.tick)
	if isBuy {
		d = d.Floor()
	} else {
		d = d.Ceil()
	}
	if d.GreaterThan(maxTicks) {
		return 0, false
	}
	return d.IntPart(), true
}

// ToPrice converts a tick level to a price.
func (m *Market) ToPrice(ticks int64) float64 {
	return m.tick.Mul(decimal.NewFromInt(ticks)).InexactFloat64()
}

// BeginStep advances the market to step, carrying prices forward.
func (m *Market) BeginStep(step int64, fundamental float64) error {
	if step != m.step+1 {
		return simerr.Scheduling("market.BeginStep", "market %d at step %d asked to begin step %d", m.id, m.step, step)
	}
	m.step = step
	h := &m.hist
	h.grow(step)
	h.fundamentals[step] = fundamental
	if step == 0 {
		switch {
		case m.cfg.MarketPrice > 0:
			h.marketPrices[0] = m.cfg.MarketPrice
		case m.cfg.FundamentalPrice > 0:
			h.marketPrices[0] = m.cfg.FundamentalPrice
		default:
			h.marketPrices[0] = fundamental
		}
		return nil
	}
	h.lastPrices[step] = h.lastPrices[step-1]
	h.midPrices[step] = h.midPrices[step-1]
	h.marketPrices[step] = h.marketPrices[step-1]
	return nil
}

// SetFundamental overwrites the fundamental price of the current step.
func (m *Market) SetFundamental(v float64) {
	if m.step >= 0 {
		m.hist.fundamentals[m.step] = v
	}
}

func (m *Market) reject(o Order, reason string) error {
	return &simerr.OrderValidationError{MarketID: int(m.id), AgentID: int(o.AgentID), Reason: reason}
}

// validate checks an order without touching the book.
func (m *Market) validate(o Order) (core.PriceTicks, error) {
	if m.step < 0 {
		return 0, ErrNotStarted
	}
	if o.MarketID != m.id {
		return 0, m.reject(o, "order is for a different market")
	}
	if o.Volume <= 0 {
		return 0, m.reject(o, "volume must be positive")
	}
	if o.TTL < 0 {
		return 0, m.reject(o, "ttl must not be negative")
	}
	switch o.Kind {
	case KindMarket:
		if !m.IsRunning() {
			return 0, m.reject(o, "market orders need a running market with execution enabled")
		}
		return 0, nil
	case KindLimit:
		if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0 {
			return 0, m.reject(o, "limit price must be a positive finite number")
		}
		ticks, ok := m.toTicks(o.Price, o.IsBuy)
		if !ok {
			return 0, m.reject(o, "limit price exceeds tick range")
		}
		if ticks <= 0 {
			return 0, m.reject(o, "limit price rounds below one tick")
		}
		return core.PriceTicks(ticks), nil
	default:
		return 0, m.reject(o, "unknown order kind")
	}
}

// Validate reports whether o would be accepted, without side effects.
func (m *Market) Validate(o Order) error {
	_, err := m.validate(o)
	return err
}

// Submit validates o and, if accepted, assigns its id and placement step and
// inserts it. A running market matches it on arrival; otherwise a limit order
// rests without crossing until StepMatch.
func (m *Market) Submit(o Order) (SubmitReport, error) {
	ticks, err := m.validate(o)
	if err != nil {
		return SubmitReport{}, err
	}

	o.ID = m.ids.Next()
	o.PlacedAt = m.step
	if o.Kind == KindLimit {
		o.Price = m.ToPrice(int64(ticks))
	}
	co := core.Order{
		ID:    o.ID,
		Owner: core.OwnerID(o.AgentID),
		Side:  o.side(),
		Kind:  o.Kind,
		Price: ticks,
		Size:  core.Size(o.Volume),
		Step:  o.PlacedAt,
		TTL:   o.TTL,
	}

	var (
		rep core.SubmitReport
		evs []core.Event
	)
	switch {
	case o.Kind == KindMarket:
		rep, evs, err = m.book.SubmitMarket(co)
	case m.IsRunning():
		rep, evs, err = m.book.SubmitLimit(co)
	default:
		rep, evs, err = m.book.Rest(co)
	}
	if err != nil {
		// validate already covered everything the core checks
		return SubmitReport{}, m.reject(o, err.Error())
	}

	if o.IsBuy {
		m.hist.buyOrders[m.step]++
	} else {
		m.hist.sellOrders[m.step]++
	}
	execs := m.apply(evs)
	m.updatePrices()

	return SubmitReport{
		Order:      o,
		Executions: execs,
		Remaining:  int64(rep.Remaining),
		Rested:     rep.Rested,
	}, nil
}

// Cancel removes a resting order owned by the cancel's agent.
func (m *Market) Cancel(c Cancel) (Canceled, error) {
	if m.step < 0 {
		return Canceled{}, ErrNotStarted
	}
	rejected := func(reason string) error {
		return &simerr.CancelValidationError{MarketID: int(m.id), AgentID: int(c.AgentID), OrderID: int64(c.OrderID), Reason: reason}
	}
	if c.MarketID != m.id {
		return Canceled{}, rejected("cancel is for a different market")
	}
	ro, ok := m.view.OwnedBy(c.OrderID, core.OwnerID(c.AgentID))
	if !ok {
		return Canceled{}, rejected("order is not resting or not owned by the agent")
	}
	snap, _ := m.book.Order(c.OrderID)
	_, evs, err := m.book.Cancel(c.OrderID, m.step)
	if err != nil {
		return Canceled{}, rejected(err.Error())
	}
	m.apply(evs)
	m.updatePrices()

	return Canceled{
		OrderID:  c.OrderID,
		MarketID: m.id,
		AgentID:  c.AgentID,
		IsBuy:    ro.Side == core.SideBuy,
		Price:    m.ToPrice(int64(ro.Price)),
		Volume:   int64(ro.Size),
		PlacedAt: ro.Step,
		TTL:      snap.TTL,
		Step:     m.step,
		Reason:   ReasonAgent,
	}, nil
}

// StepMatch uncrosses a book left crossed while execution was off. Each
// match trades at the price of the earlier-placed order.
func (m *Market) StepMatch() []Execution {
	if m.step < 0 || !m.IsRunning() {
		return nil
	}
	execs := m.apply(m.book.Uncross(m.step))
	if len(execs) > 0 {
		m.updatePrices()
	}
	return execs
}

// EndStep expires every resting order whose TTL has elapsed.
func (m *Market) EndStep() ([]Canceled, error) {
	if m.step < 0 {
		return nil, nil
	}
	var out []Canceled
	for _, ev := range m.book.Expire(m.step) {
		m.view.Apply(ev)
		e := ev.(core.OrderRemovedEvent)
		out = append(out, Canceled{
			OrderID:  e.OrderID,
			MarketID: m.id,
			AgentID:  AgentID(e.Owner),
			IsBuy:    e.Side == core.SideBuy,
			Price:    m.ToPrice(int64(e.Price)),
			Volume:   int64(e.Remaining),
			PlacedAt: e.PlacedAt,
			TTL:      e.TTL,
			Step:     m.step,
			Reason:   ReasonExpiry,
		})
	}
	if len(out) > 0 {
		m.updatePrices()
	}
	return out, nil
}

// apply feeds core events to the read model and records executions.
func (m *Market) apply(evs []core.Event) []Execution {
	var execs []Execution
	for _, ev := range evs {
		m.view.Apply(ev)
		tr, ok := ev.(core.TradeEvent)
		if !ok {
			continue
		}
		x := m.execution(tr)
		m.hist.lastPrices[m.step] = x.Price
		m.hist.volumes[m.step] += x.Volume
		m.hist.notionals[m.step] += x.Price * float64(x.Volume)
		execs = append(execs, x)
	}
	return execs
}

func (m *Market) execution(tr core.TradeEvent) Execution {
	return Execution{
		MarketID:    m.id,
		BuyOrderID:  tr.BuyOrderID,
		SellOrderID: tr.SellOrderID,
		BuyAgentID:  AgentID(tr.BuyOwner),
		SellAgentID: AgentID(tr.SellOwner),
		Price:       m.ToPrice(int64(tr.Price)),
		Volume:      int64(tr.Size),
		Step:        tr.Step,
	}
}

// updatePrices applies the market price rule: last executed price if any
// trade ever happened, otherwise the mid price, otherwise the previous price.
func (m *Market) updatePrices() {
	t := m.step
	h := &m.hist
	bid, okB := m.book.BestBid()
	ask, okA := m.book.BestAsk()
	if okB && okA {
		h.midPrices[t] = (m.ToPrice(int64(bid)) + m.ToPrice(int64(ask))) / 2
	} else {
		h.midPrices[t] = math.NaN()
	}
	if !m.IsRunning() || m.derived {
		return
	}
	if !math.IsNaN(h.lastPrices[t]) {
		h.marketPrices[t] = h.lastPrices[t]
	} else if !math.IsNaN(h.midPrices[t]) {
		h.marketPrices[t] = h.midPrices[t]
	}
}

func (m *Market) setMarketPrice(v float64) {
	if m.step >= 0 {
		m.hist.marketPrices[m.step] = v
	}
}

// Snapshot copies the book in priority order.
func (m *Market) Snapshot() Snapshot {
	s := Snapshot{Step: m.step}
	for _, o := range m.book.Orders(core.SideBuy) {
		s.Buy = append(s.Buy, m.resting(o))
	}
	for _, o := range m.book.Orders(core.SideSell) {
		s.Sell = append(s.Sell, m.resting(o))
	}
	return s
}

func (m *Market) resting(o core.Order) RestingOrder {
	return RestingOrder{
		OrderID:  o.ID,
		AgentID:  AgentID(o.Owner),
		IsBuy:    o.Side == core.SideBuy,
		Price:    m.ToPrice(int64(o.Price)),
		Volume:   int64(o.Size),
		PlacedAt: o.Step,
	}
}
