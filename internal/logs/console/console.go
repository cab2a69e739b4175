// Package console prints a human-readable market trace.
package console

import (
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/market"
)

// Config controls the printer.
type Config struct {
	// ProgressEvery prints a progress bar every n steps of a printed session; 0 disables it.
	ProgressEvery int64
	// ProgressWidth is the bar width in cells.
	ProgressWidth int
	// Executions also prints every trade.
	Executions bool
}

func DefaultConfig() Config {
	return Config{ProgressEvery: 100, ProgressWidth: 40}
}

type styles struct {
	title, header, row, muted, up, down lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#9CA3AF")),
		row:    r.NewStyle().Foreground(lipgloss.Color("#F9FAFB")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		up:     r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		down:   r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
}

// Printer writes one line per market per step for sessions that ask for
// printing, in the column order session, step, market id, name, market price,
// fundamental price.
type Printer struct {
	logs.Nop

	w     io.Writer
	cfg   Config
	st    styles
	bar   progress.Model
	last  map[market.ID]float64
	start int64
	steps int64
	print bool
	err   error
}

var _ logs.Processor = (*Printer)(nil)

func New(w io.Writer, cfg Config) *Printer {
	if cfg.ProgressWidth <= 0 {
		cfg.ProgressWidth = DefaultConfig().ProgressWidth
	}
	return &Printer{
		w:    w,
		cfg:  cfg,
		st:   newStyles(lipgloss.NewRenderer(w)),
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(cfg.ProgressWidth)),
		last: make(map[market.ID]float64),
	}
}

// Err returns the first write error.
func (p *Printer) Err() error { return p.err }

func (p *Printer) println(s string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

func (p *Printer) ProcessSimulationBegin(l logs.SimulationBeginLog) {
	p.println(p.st.title.Render(fmt.Sprintf("simulation %s", l.RunID)) +
		p.st.muted.Render(fmt.Sprintf(" seed=%d markets=%d agents=%d sessions=%d", l.Seed, l.Markets, l.Agents, l.Sessions)))
}

func (p *Printer) ProcessSimulationEnd(l logs.SimulationEndLog) {
	p.println(p.st.title.Render("simulation finished") +
		p.st.muted.Render(fmt.Sprintf(" steps=%d orders=%d executions=%d", l.Steps, l.Orders, l.Executions)))
}

func (p *Printer) ProcessSessionBegin(l logs.SessionBeginLog) {
	p.print = l.WithPrint
	p.start, p.steps = l.StartStep, l.Steps
	if !p.print {
		return
	}
	p.println(p.st.title.Render(fmt.Sprintf("session %d %s", l.SessionID, l.Name)))
	p.println(p.st.header.Render(fmt.Sprintf("%-7s %-8s %-6s %-12s %12s %12s", "session", "step", "market", "name", "price", "fundamental")))
}

func (p *Printer) ProcessSessionEnd(l logs.SessionEndLog) {
	if !l.WithPrint {
		return
	}
	p.println(p.st.muted.Render(fmt.Sprintf("session %d %s ended at step %d", l.SessionID, l.Name, l.EndStep)))
}

func (p *Printer) ProcessMarketStepEnd(l logs.MarketStepEndLog) {
	prev, seen := p.last[l.MarketID]
	p.last[l.MarketID] = l.MarketPrice
	if !l.WithPrint {
		return
	}
	price := fmt.Sprintf("%12.4f", l.MarketPrice)
	switch {
	case !seen || l.MarketPrice == prev || math.IsNaN(prev):
		price = p.st.row.Render(price)
	case l.MarketPrice > prev:
		price = p.st.up.Render(price)
	default:
		price = p.st.down.Render(price)
	}
	halted := ""
	if !l.Running {
		halted = p.st.muted.Render(" halted")
	}
	p.println(fmt.Sprintf("%-7d %-8d %-6d %-12s %s %12.4f%s",
		l.SessionID, l.Step, l.MarketID, l.MarketName, price, l.FundamentalPrice, halted))

	done := l.Step - p.start + 1
	if p.cfg.ProgressEvery > 0 && p.steps > 0 && done%p.cfg.ProgressEvery == 0 && l.MarketID == p.lastMarket() {
		p.println(p.bar.ViewAs(float64(done) / float64(p.steps)))
	}
}

func (p *Printer) ProcessExecution(l logs.ExecutionLog) {
	if !p.cfg.Executions || !p.print {
		return
	}
	p.println(p.st.muted.Render(fmt.Sprintf("  trade market=%d step=%d price=%.4f volume=%d buy=%d sell=%d",
		l.MarketID, l.Step, l.Price, l.Volume, l.BuyAgentID, l.SellAgentID)))
}

func (p *Printer) lastMarket() market.ID {
	var hi market.ID
	for id := range p.last {
		hi = max(hi, id)
	}
	return hi
}
