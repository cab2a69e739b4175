package logs

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zappabad/marketsim/internal/market"
)

type flushing struct {
	Recorder
	flushes int
	err     error
}

func (f *flushing) Flush(context.Context) error {
	f.flushes++
	return f.err
}

func allRecords() []Record {
	return []Record{
		SimulationBeginLog{RunID: "r"},
		SessionBeginLog{},
		MarketStepBeginLog{},
		OrderLog{},
		ExecutionLog{},
		CancelLog{},
		MarketStepEndLog{},
		SessionEndLog{},
		SimulationEndLog{},
	}
}

func TestDispatchCoversEveryKind(t *testing.T) {
	var r Recorder
	for _, rec := range allRecords() {
		Dispatch(&r, rec)
	}
	assert.Equal(t, []string{
		"simulation_begin", "session_begin", "market_step_begin", "order", "execution",
		"cancel", "market_step_end", "session_end", "simulation_end",
	}, r.Kinds())
}

func TestBufferedDefersUntilFlush(t *testing.T) {
	p := &flushing{}
	b := NewBuffered(p)
	for _, rec := range allRecords() {
		b.Write(rec)
	}
	assert.Empty(t, p.Records)
	assert.Equal(t, 9, b.Pending())

	require.NoError(t, b.Flush(context.Background()))
	assert.Len(t, p.Records, 9)
	assert.Zero(t, b.Pending())
	assert.Equal(t, 1, p.flushes)

	require.NoError(t, b.Flush(context.Background()))
	assert.Len(t, p.Records, 9)
}

func TestDirectProcessesImmediately(t *testing.T) {
	p := &flushing{}
	d := NewDirect(p)
	d.Write(OrderLog{OrderID: 4})
	require.Len(t, p.Records, 1)
	assert.Equal(t, market.OrderID(4), p.Records[0].(OrderLog).OrderID)
	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, 1, p.flushes)
}

func TestTeeJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &flushing{}, &flushing{err: boom}
	tee := Tee{NewDirect(a), NewBuffered(b), Discard{}}
	tee.Write(ExecutionLog{Volume: 3})
	assert.Len(t, a.Records, 1)
	assert.Empty(t, b.Records)

	err := tee.Flush(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, b.Records, 1)
}

func TestSavers(t *testing.T) {
	steps := &MarketStepSaver{}
	execs := &ExecutionSaver{}
	sink := Tee{NewDirect(steps), NewDirect(execs)}
	sink.Write(MarketStepEndLog{MarketID: 0, MarketPrice: 100})
	sink.Write(MarketStepEndLog{MarketID: 1, MarketPrice: 50})
	sink.Write(MarketStepEndLog{MarketID: 0, MarketPrice: 101})
	sink.Write(ExecutionLog{Price: 100, Volume: 2})
	assert.Equal(t, []float64{100, 101}, steps.Prices(0))
	assert.Len(t, execs.Executions, 1)
}

func TestConstructors(t *testing.T) {
	o := market.NewMarketOrder(1, 2, true, 5)
	o.ID, o.PlacedAt = 9, 3
	ol := NewOrderLog(o)
	assert.True(t, math.IsNaN(ol.Price))
	assert.Equal(t, int64(3), ol.Step)
	assert.Equal(t, market.KindMarket, ol.OrderKind)

	cl := NewCancelLog(market.Canceled{OrderID: 2, PlacedAt: 1, Step: 4, Reason: market.ReasonExpiry})
	assert.Equal(t, int64(1), cl.OrderStep)
	assert.Equal(t, int64(4), cl.CancelStep)
	assert.Equal(t, "expiry", cl.Reason.String())

	cfg := market.DefaultConfig()
	cfg.FundamentalPrice = 100
	m, err := market.New(0, "spot", cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.BeginStep(0, 100))
	sl := NewMarketStepEndLog(2, true, m)
	assert.Equal(t, "spot", sl.MarketName)
	assert.Equal(t, 100.0, sl.MarketPrice)
	assert.True(t, math.IsNaN(sl.MidPrice))
	assert.True(t, math.IsNaN(sl.LastPrice))
	assert.True(t, sl.Running)

	bl := NewMarketStepBeginLog(2, m)
	assert.Equal(t, int64(0), bl.Step)
	assert.Equal(t, 100.0, bl.MarketPrice)
	assert.True(t, math.IsNaN(bl.MidPrice))
	assert.True(t, math.IsNaN(bl.LastPrice))
}
