package market

import (
	"github.com/zappabad/marketsim/internal/simerr"
)

// IndexMarket is a market whose price and fundamental are the weighted sums
// of its constituents. It keeps its own book, but runs no uncross pass.
type IndexMarket struct {
	*Market
	components []*Market
	weights    []float64
}

// NewIndex creates an index over components. With nil weights each component
// is weighted by its outstanding shares; explicit weights are normalised.
func NewIndex(id ID, name string, cfg Config, components []*Market, weights []float64, seq *Sequence) (*IndexMarket, error) {
	if len(components) == 0 {
		return nil, simerr.Config("markets", "index market %q needs at least one component", name)
	}
	seen := make(map[ID]bool, len(components))
	raw := make([]float64, len(components))
	for i, c := range components {
		if seen[c.ID()] {
			return nil, simerr.Config("markets", "market %q is already a component of %q", c.Name(), name)
		}
		seen[c.ID()] = true
		if weights == nil {
			if c.OutstandingShares() <= 0 {
				return nil, simerr.Config("outstandingShares", "component %q of index %q needs outstandingShares", c.Name(), name)
			}
			raw[i] = float64(c.OutstandingShares())
		}
	}
	if weights != nil {
		if len(weights) != len(components) {
			return nil, simerr.Config("weights", "index %q has %d weights for %d components", name, len(weights), len(components))
		}
		copy(raw, weights)
	}
	var total float64
	for _, w := range raw {
		if w < 0 {
			return nil, simerr.Config("weights", "index %q has a negative weight", name)
		}
		total += w
	}
	if total <= 0 {
		return nil, simerr.Config("weights", "index %q weights sum to zero", name)
	}
	for i := range raw {
		raw[i] /= total
	}

	if cfg.MarketPrice == 0 && cfg.FundamentalPrice == 0 {
		// only a placeholder until the first step derives the real value
		cfg.FundamentalPrice = 1
	}
	m, err := New(id, name, cfg, seq)
	if err != nil {
		return nil, err
	}
	m.derived = true
	return &IndexMarket{Market: m, components: components, weights: raw}, nil
}

// Components returns the constituents.
func (im *IndexMarket) Components() []Reader {
	out := make([]Reader, len(im.components))
	for i, c := range im.components {
		out[i] = c
	}
	return out
}

// Weights returns the normalised weights, aligned with Components.
func (im *IndexMarket) Weights() []float64 {
	return append([]float64(nil), im.weights...)
}

// ComputeMarketIndex returns the weighted constituent market price at step.
func (im *IndexMarket) ComputeMarketIndex(step int64) (float64, error) {
	var v float64
	for i, c := range im.components {
		p, err := c.MarketPriceAt(step)
		if err != nil {
			return 0, err
		}
		v += im.weights[i] * p
	}
	return v, nil
}

// ComputeFundamentalIndex returns the weighted constituent fundamental at step.
func (im *IndexMarket) ComputeFundamentalIndex(step int64) (float64, error) {
	var v float64
	for i, c := range im.components {
		p, err := c.FundamentalPriceAt(step)
		if err != nil {
			return 0, err
		}
		v += im.weights[i] * p
	}
	return v, nil
}

// BeginStep advances the index. Constituents must already be at step; the
// fundamental argument is ignored in favour of the weighted one.
func (im *IndexMarket) BeginStep(step int64, _ float64) error {
	f, err := im.ComputeFundamentalIndex(step)
	if err != nil {
		return simerr.Scheduling("index.BeginStep", "index %q: %v", im.name, err)
	}
	if err := im.Market.BeginStep(step, f); err != nil {
		return err
	}
	return im.Recompute()
}

// StepMatch is a no-op: an index has no matching pass of its own.
func (im *IndexMarket) StepMatch() []Execution { return nil }

// EndStep expires orders, then recomputes price and fundamental. It fails if
// the index or a constituent has not reached the index's step.
func (im *IndexMarket) EndStep() ([]Canceled, error) {
	out, err := im.Market.EndStep()
	if err != nil {
		return nil, err
	}
	if err := im.Recompute(); err != nil {
		return out, simerr.Scheduling("index.EndStep", "index %q: %v", im.name, err)
	}
	return out, nil
}

// Recompute sets the current price and fundamental from the constituents.
func (im *IndexMarket) Recompute() error {
	p, err := im.ComputeMarketIndex(im.step)
	if err != nil {
		return err
	}
	f, err := im.ComputeFundamentalIndex(im.step)
	if err != nil {
		return err
	}
	im.setMarketPrice(p)
	im.SetFundamental(f)
	return nil
}
