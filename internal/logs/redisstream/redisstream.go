// Package redisstream publishes the record stream to a Redis stream so that
// other processes can follow a run.
package redisstream

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/logs"
)

// Pipeliner is the part of *redis.Client the publisher needs.
type Pipeliner interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Config selects the stream and which records are published.
type Config struct {
	Stream string
	// MaxLen caps the stream length approximately; 0 leaves it unbounded.
	MaxLen int64
	// Steps also publishes market step summaries.
	Steps bool
}

// Publisher turns records into XADD commands and sends them in one pipeline
// per Flush.
type Publisher struct {
	client  Pipeliner
	cfg     Config
	runID   string
	pending []*redis.XAddArgs
	logger  *zap.Logger
}

var (
	_ logs.Processor = (*Publisher)(nil)
	_ logs.Flusher   = (*Publisher)(nil)
)

func New(client Pipeliner, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redisstream: empty stream name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, cfg: cfg, logger: logger.With(zap.String("stream", cfg.Stream))}, nil
}

// Pending returns the commands waiting for the next Flush.
func (p *Publisher) Pending() []*redis.XAddArgs { return p.pending }

func num(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (p *Publisher) add(kind string, values map[string]any) {
	values["kind"] = kind
	if p.runID != "" {
		values["run"] = p.runID
	}
	p.pending = append(p.pending, &redis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: p.cfg.MaxLen > 0,
		Values: values,
	})
}

func (p *Publisher) ProcessOrder(l logs.OrderLog) {
	p.add(l.Kind(), map[string]any{
		"order":  int64(l.OrderID),
		"market": int(l.MarketID),
		"step":   l.Step,
		"agent":  int(l.AgentID),
		"buy":    l.IsBuy,
		"type":   l.OrderKind.String(),
		"price":  num(l.Price),
		"volume": l.Volume,
		"ttl":    l.TTL,
	})
}

func (p *Publisher) ProcessCancel(l logs.CancelLog) {
	p.add(l.Kind(), map[string]any{
		"order":  int64(l.OrderID),
		"market": int(l.MarketID),
		"step":   l.CancelStep,
		"agent":  int(l.AgentID),
		"volume": l.Volume,
		"reason": l.Reason.String(),
	})
}

func (p *Publisher) ProcessExecution(l logs.ExecutionLog) {
	p.add(l.Kind(), map[string]any{
		"market":     int(l.MarketID),
		"step":       l.Step,
		"buy_agent":  int(l.BuyAgentID),
		"sell_agent": int(l.SellAgentID),
		"buy_order":  int64(l.BuyOrderID),
		"sell_order": int64(l.SellOrderID),
		"price":      num(l.Price),
		"volume":     l.Volume,
	})
}

func (p *Publisher) ProcessSimulationBegin(l logs.SimulationBeginLog) {
	p.runID = l.RunID
	p.add(l.Kind(), map[string]any{
		"seed":     strconv.FormatUint(l.Seed, 10),
		"markets":  l.Markets,
		"agents":   l.Agents,
		"sessions": l.Sessions,
		"steps":    l.Steps,
		"step":     l.Step,
	})
}

func (p *Publisher) ProcessSimulationEnd(l logs.SimulationEndLog) {
	p.add(l.Kind(), map[string]any{
		"step":       l.Step,
		"steps":      l.Steps,
		"orders":     l.Orders,
		"executions": l.Executions,
	})
}

func (p *Publisher) ProcessSessionBegin(l logs.SessionBeginLog) {
	p.add(l.Kind(), map[string]any{"session": l.SessionID, "name": l.Name, "start": l.StartStep, "steps": l.Steps})
}

func (p *Publisher) ProcessSessionEnd(l logs.SessionEndLog) {
	p.add(l.Kind(), map[string]any{"session": l.SessionID, "name": l.Name, "end": l.EndStep})
}

func (p *Publisher) ProcessMarketStepBegin(logs.MarketStepBeginLog) {}

func (p *Publisher) ProcessMarketStepEnd(l logs.MarketStepEndLog) {
	if !p.cfg.Steps {
		return
	}
	p.add(l.Kind(), map[string]any{
		"session":     l.SessionID,
		"market":      int(l.MarketID),
		"step":        l.Step,
		"price":       num(l.MarketPrice),
		"fundamental": num(l.FundamentalPrice),
		"mid":         num(l.MidPrice),
		"volume":      l.Volume,
		"running":     l.Running,
	})
}

// Flush sends all pending commands in a single pipeline. Pending commands are
// dropped whether or not the pipeline succeeds.
func (p *Publisher) Flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	pending := p.pending
	p.pending = nil
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, a := range pending {
			pipe.XAdd(ctx, a)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("stream publish failed", zap.Int("records", len(pending)), zap.Error(err))
		return fmt.Errorf("redisstream: xadd %d records: %w", len(pending), err)
	}
	p.logger.Debug("stream published", zap.Int("records", len(pending)))
	return nil
}
