// Package metrics exports the record stream as prometheus metrics.
package metrics

import (
	"context"
	"math"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zappabad/marketsim/internal/logs"
)

// Processor counts orders, cancels and executions and tracks prices per market.
type Processor struct {
	logs.Nop

	Orders         *prometheus.CounterVec
	Cancels        *prometheus.CounterVec
	Executions     *prometheus.CounterVec
	ExecutedVolume *prometheus.CounterVec
	TradeSize      *prometheus.HistogramVec
	MarketPrice    *prometheus.GaugeVec
	Fundamental    *prometheus.GaugeVec
	Running        *prometheus.GaugeVec
	Steps          prometheus.Counter
	Sessions       prometheus.Counter

	reg      *prometheus.Registry
	textfile string
}

var (
	_ logs.Processor = (*Processor)(nil)
	_ logs.Flusher   = (*Processor)(nil)
)

// New creates the metrics on reg. When textfile is non-empty, Flush writes the
// gathered metrics there in the text exposition format.
func New(reg *prometheus.Registry, textfile string) *Processor {
	f := promauto.With(reg)
	return &Processor{
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_orders_total",
			Help: "Accepted orders by market, side and kind",
		}, []string{"market", "side", "kind"}),
		Cancels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_cancels_total",
			Help: "Orders removed without trading by market and reason",
		}, []string{"market", "reason"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_executions_total",
			Help: "Trades by market",
		}, []string{"market"}),
		ExecutedVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_executed_volume_total",
			Help: "Traded volume by market",
		}, []string{"market"}),
		TradeSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsim_trade_volume",
			Help:    "Volume of individual trades",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
		}, []string{"market"}),
		MarketPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_market_price",
			Help: "Market price at the end of the latest step",
		}, []string{"market"}),
		Fundamental: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_fundamental_price",
			Help: "Fundamental price at the end of the latest step",
		}, []string{"market"}),
		Running: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_market_running",
			Help: "1 while the market matches orders, 0 while halted or not executing",
		}, []string{"market"}),
		Steps: f.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_market_steps_total",
			Help: "Market steps completed",
		}),
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_sessions_total",
			Help: "Sessions completed",
		}),
		reg:      reg,
		textfile: textfile,
	}
}

// Flush writes the textfile, if one was configured.
func (p *Processor) Flush(context.Context) error {
	if p.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(p.textfile, p.reg)
}

func label[T ~int](id T) string { return strconv.Itoa(int(id)) }

func side(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

func (p *Processor) ProcessOrder(l logs.OrderLog) {
	p.Orders.WithLabelValues(label(l.MarketID), side(l.IsBuy), l.OrderKind.String()).Inc()
}

func (p *Processor) ProcessCancel(l logs.CancelLog) {
	p.Cancels.WithLabelValues(label(l.MarketID), l.Reason.String()).Inc()
}

func (p *Processor) ProcessExecution(l logs.ExecutionLog) {
	m := label(l.MarketID)
	p.Executions.WithLabelValues(m).Inc()
	p.ExecutedVolume.WithLabelValues(m).Add(float64(l.Volume))
	p.TradeSize.WithLabelValues(m).Observe(float64(l.Volume))
}

func (p *Processor) ProcessMarketStepEnd(l logs.MarketStepEndLog) {
	m := label(l.MarketID)
	if !math.IsNaN(l.MarketPrice) {
		p.MarketPrice.WithLabelValues(m).Set(l.MarketPrice)
	}
	p.Fundamental.WithLabelValues(m).Set(l.FundamentalPrice)
	running := 0.0
	if l.Running {
		running = 1
	}
	p.Running.WithLabelValues(m).Set(running)
	p.Steps.Inc()
}

func (p *Processor) ProcessSessionEnd(logs.SessionEndLog) { p.Sessions.Inc() }
