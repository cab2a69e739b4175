package logs

import (
	"context"
	"errors"
	"fmt"
)

// Processor consumes records, one method per kind.
type Processor interface {
	ProcessOrder(OrderLog)
	ProcessCancel(CancelLog)
	ProcessExecution(ExecutionLog)
	ProcessSimulationBegin(SimulationBeginLog)
	ProcessSimulationEnd(SimulationEndLog)
	ProcessSessionBegin(SessionBeginLog)
	ProcessSessionEnd(SessionEndLog)
	ProcessMarketStepBegin(MarketStepBeginLog)
	ProcessMarketStepEnd(MarketStepEndLog)
}

// Flusher is implemented by processors that batch I/O.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Nop implements Processor by ignoring every record. Embed it and override
// the kinds of interest.
type Nop struct{}

func (Nop) ProcessOrder(OrderLog)                     {}
func (Nop) ProcessCancel(CancelLog)                   {}
func (Nop) ProcessExecution(ExecutionLog)             {}
func (Nop) ProcessSimulationBegin(SimulationBeginLog) {}
func (Nop) ProcessSimulationEnd(SimulationEndLog)     {}
func (Nop) ProcessSessionBegin(SessionBeginLog)       {}
func (Nop) ProcessSessionEnd(SessionEndLog)           {}
func (Nop) ProcessMarketStepBegin(MarketStepBeginLog) {}
func (Nop) ProcessMarketStepEnd(MarketStepEndLog)     {}

// Dispatch hands r to the matching method of p.
func Dispatch(p Processor, r Record) {
	switch r := r.(type) {
	case OrderLog:
		p.ProcessOrder(r)
	case CancelLog:
		p.ProcessCancel(r)
	case ExecutionLog:
		p.ProcessExecution(r)
	case SimulationBeginLog:
		p.ProcessSimulationBegin(r)
	case SimulationEndLog:
		p.ProcessSimulationEnd(r)
	case SessionBeginLog:
		p.ProcessSessionBegin(r)
	case SessionEndLog:
		p.ProcessSessionEnd(r)
	case MarketStepBeginLog:
		p.ProcessMarketStepBegin(r)
	case MarketStepEndLog:
		p.ProcessMarketStepEnd(r)
	default:
		panic(fmt.Sprintf("logs: unknown record %T", r))
	}
}

// Sink receives the record stream from the simulator.
type Sink interface {
	Write(r Record)
	Flush(ctx context.Context) error
}

// Buffered holds records until Flush, then processes them in order.
type Buffered struct {
	p       Processor
	pending []Record
}

func NewBuffered(p Processor) *Buffered { return &Buffered{p: p} }

func (b *Buffered) Write(r Record) { b.pending = append(b.pending, r) }

// Pending returns the number of unprocessed records.
func (b *Buffered) Pending() int { return len(b.pending) }

func (b *Buffered) Flush(ctx context.Context) error {
	pending := b.pending
	b.pending = nil
	for _, r := range pending {
		Dispatch(b.p, r)
	}
	if f, ok := b.p.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Direct processes each record as it is written.
type Direct struct {
	p Processor
}

func NewDirect(p Processor) *Direct { return &Direct{p: p} }

func (d *Direct) Write(r Record) { Dispatch(d.p, r) }

func (d *Direct) Flush(ctx context.Context) error {
	if f, ok := d.p.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Tee fans records out to several sinks.
type Tee []Sink

func (t Tee) Write(r Record) {
	for _, s := range t {
		s.Write(r)
	}
}

func (t Tee) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range t {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(Record)                {}
func (Discard) Flush(context.Context) error { return nil }
