// Package fundamentals generates the "true value" of each market as
// correlated geometric Brownian motions.
//
// Prices are generated lazily in chunks. A change of drift, volatility or
// correlation, or a shock, invalidates everything generated after the step it
// applies to.
package fundamentals

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/simerr"
)

// DefaultChunk is the number of steps generated at once.
const DefaultChunk = 100

var ErrUnknownMarket = errors.New("unknown market")

// Params describes one market's process.
type Params struct {
	Initial    float64
	Drift      float64
	Volatility float64
	StartAt    int64
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if !(p.Initial > 0) || math.IsInf(p.Initial, 0) {
		return simerr.Config("fundamentalPrice", "initial value must be positive, got %v", p.Initial)
	}
	if p.Volatility < 0 || math.IsNaN(p.Volatility) {
		return simerr.Config("fundamentalVolatility", "must not be negative, got %v", p.Volatility)
	}
	if math.IsNaN(p.Drift) || math.IsInf(p.Drift, 0) {
		return simerr.Config("fundamentalDrift", "must be finite")
	}
	if p.StartAt < 0 {
		return simerr.Config("startAt", "must not be negative")
	}
	return nil
}

type pair struct{ a, b market.ID }

func key(a, b market.ID) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

// Fundamentals owns the fundamental price series of every market.
type Fundamentals struct {
	rng    *rand.Rand
	chunk  int64
	ids    []market.ID
	params map[market.ID]Params
	prices map[market.ID][]float64
	corr   map[pair]float64

	generatedUntil int64
}

// New returns an empty set of processes drawing from rng.
func New(rng *rand.Rand) *Fundamentals {
	return &Fundamentals{
		rng:    rng,
		chunk:  DefaultChunk,
		params: map[market.ID]Params{},
		prices: map[market.ID][]float64{},
		corr:   map[pair]float64{},
	}
}

// AddMarket registers a process for id.
func (f *Fundamentals) AddMarket(id market.ID, p Params) error {
	if _, ok := f.params[id]; ok {
		return simerr.Config("markets", "fundamentals of market %d already registered", id)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	f.ids = append(f.ids, id)
	f.params[id] = p
	series := make([]float64, p.StartAt+1)
	for i := range series {
		series[i] = p.Initial
	}
	f.prices[id] = series
	f.generatedUntil = min(f.generatedUntil, p.StartAt)
	return nil
}

// Has reports whether id has a process.
func (f *Fundamentals) Has(id market.ID) bool {
	_, ok := f.params[id]
	return ok
}

// SetCorrelation sets the correlation of two markets' returns from step on.
func (f *Fundamentals) SetCorrelation(a, b market.ID, corr float64, step int64) error {
	if a == b {
		return simerr.Config("fundamentalCorrelations", "a market cannot be correlated with itself")
	}
	if !(corr > -1 && corr < 1) {
		return simerr.Config("fundamentalCorrelations", "correlation must be in (-1, 1), got %v", corr)
	}
	if !f.Has(a) || !f.Has(b) {
		return simerr.Config("fundamentalCorrelations", "%w: %d or %d", ErrUnknownMarket, a, b)
	}
	f.corr[key(a, b)] = corr
	f.invalidate(step)
	return nil
}

// ChangeDrift sets a new drift from step on.
func (f *Fundamentals) ChangeDrift(id market.ID, drift float64, step int64) error {
	p, ok := f.params[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	p.Drift = drift
	f.params[id] = p
	f.invalidate(step)
	return nil
}

// ChangeVolatility sets a new volatility from step on.
func (f *Fundamentals) ChangeVolatility(id market.ID, vol float64, step int64) error {
	p, ok := f.params[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	if vol < 0 {
		return fmt.Errorf("volatility must not be negative, got %v", vol)
	}
	p.Volatility = vol
	f.params[id] = p
	f.invalidate(step)
	return nil
}

func (f *Fundamentals) invalidate(step int64) {
	if step < f.generatedUntil {
		f.generatedUntil = max(step, 0)
	}
}

// Check verifies that the current correlations form a valid covariance matrix.
func (f *Fundamentals) Check() error {
	if _, err := f.cholesky(f.volatileIDs(f.ids)); err != nil {
		return simerr.Config("fundamentalCorrelations", "%v", err)
	}
	return nil
}

// Price returns the fundamental price of id at step, generating as needed.
func (f *Fundamentals) Price(id market.ID, step int64) (float64, error) {
	if !f.Has(id) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	if step < 0 {
		return 0, fmt.Errorf("negative step %d", step)
	}
	for step >= f.generatedUntil {
		if err := f.generateNext(); err != nil {
			return 0, err
		}
	}
	return f.prices[id][step], nil
}

// Prices returns the fundamental prices of id for steps [from, to].
func (f *Fundamentals) Prices(id market.ID, from, to int64) ([]float64, error) {
	if from > to {
		return nil, nil
	}
	if _, err := f.Price(id, to); err != nil {
		return nil, err
	}
	return append([]float64(nil), f.prices[id][from:to+1]...), nil
}

// Scale multiplies the price of id at step by factor and discards the series
// generated after step; later prices follow from the shocked value.
func (f *Fundamentals) Scale(id market.ID, step int64, factor float64) (float64, error) {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return 0, fmt.Errorf("shock factor must be positive and finite, got %v", factor)
	}
	cur, err := f.Price(id, step)
	if err != nil {
		return 0, err
	}
	v := cur * factor
	f.prices[id][step] = v
	f.generatedUntil = step
	return v, nil
}

func (f *Fundamentals) generateNext() error {
	length := f.chunk
	for _, id := range f.ids {
		if s := f.params[id].StartAt; s > f.generatedUntil && s-f.generatedUntil < length {
			length = s - f.generatedUntil
		}
	}
	next := f.generatedUntil + length

	var targets []market.ID
	for _, id := range f.ids {
		if f.params[id].StartAt < next {
			targets = append(targets, id)
		}
	}
	returns, err := f.logReturns(targets, int(length))
	if err != nil {
		return err
	}
	for i, id := range targets {
		p := f.prices[id][f.generatedUntil]
		series := f.prices[id][:f.generatedUntil+1]
		for _, r := range returns[i] {
			p *= math.Exp(r)
			series = append(series, p)
		}
		f.prices[id] = series
	}
	f.generatedUntil = next
	return nil
}

func (f *Fundamentals) volatileIDs(ids []market.ID) []market.ID {
	var out []market.ID
	for _, id := range ids {
		if f.params[id].Volatility != 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// cholesky factors the covariance of ids' returns.
func (f *Fundamentals) cholesky(ids []market.ID) (*mat.TriDense, error) {
	n := len(ids)
	if n == 0 {
		return nil, nil
	}
	cov := mat.NewSymDense(n, nil)
	for i, a := range ids {
		va := f.params[a].Volatility
		cov.SetSym(i, i, va*va)
		for j := i + 1; j < n; j++ {
			b := ids[j]
			if c, ok := f.corr[key(a, b)]; ok {
				cov.SetSym(i, j, va*c*f.params[b].Volatility)
			}
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, errors.New("covariance matrix is not positive definite; check for inconsistent correlation cycles")
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, nil
}

// logReturns draws length correlated log returns for every target.
func (f *Fundamentals) logReturns(targets []market.ID, length int) ([][]float64, error) {
	vol := f.volatileIDs(targets)
	l, err := f.cholesky(vol)
	if err != nil {
		return nil, err
	}
	row := make(map[market.ID]int, len(vol))
	for i, id := range vol {
		row[id] = i
	}

	out := make([][]float64, len(targets))
	for i, id := range targets {
		out[i] = make([]float64, length)
		for t := range out[i] {
			out[i][t] = f.params[id].Drift
		}
	}
	if l == nil {
		return out, nil
	}

	n := len(vol)
	z := mat.NewDense(n, length, nil)
	for i := 0; i < n; i++ {
		for t := 0; t < length; t++ {
			z.Set(i, t, f.rng.NormFloat64())
		}
	}
	var dw mat.Dense
	dw.Mul(l, z)
	for i, id := range targets {
		r, ok := row[id]
		if !ok {
			continue
		}
		for t := 0; t < length; t++ {
			out[i][t] += dw.At(r, t)
		}
	}
	return out, nil
}
