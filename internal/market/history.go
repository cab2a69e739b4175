package market

import "math"

const historyChunk = 100

// history keeps one entry per step; NaN marks "no value" for optional prices.
type history struct {
	marketPrices []float64
	midPrices    []float64
	lastPrices   []float64
	fundamentals []float64
	volumes      []int64
	notionals    []float64
	buyOrders    []int64
	sellOrders   []int64
}

func (h *history) len() int64 { return int64(len(h.marketPrices)) }

// grow makes room for step, in chunks.
func (h *history) grow(step int64) {
	if step < h.len() {
		return
	}
	n := int((step/historyChunk + 1) * historyChunk)
	for len(h.marketPrices) < n {
		h.marketPrices = append(h.marketPrices, math.NaN())
		h.midPrices = append(h.midPrices, math.NaN())
		h.lastPrices = append(h.lastPrices, math.NaN())
		h.fundamentals = append(h.fundamentals, math.NaN())
		h.volumes = append(h.volumes, 0)
		h.notionals = append(h.notionals, 0)
		h.buyOrders = append(h.buyOrders, 0)
		h.sellOrders = append(h.sellOrders, 0)
	}
}

func optional(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func copyUpTo(src []float64, step int64) []float64 {
	out := make([]float64, step+1)
	copy(out, src[:step+1])
	return out
}
