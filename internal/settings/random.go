package settings

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/zappabad/marketsim/internal/simerr"
)

type distKind uint8

const (
	distConst distKind = iota
	distUniform
	distNormal
	distExpon
)

// Distribution is a parameter that may be drawn at random. It is written as
//
//	5                  constant
//	[a, b]             uniform on [a, b)
//	{const: [v]}       constant
//	{uniform: [a, b]}  uniform on [a, b)
//	{normal: [mu, s]}  normal
//	{expon: [lambda]}  exponential with mean lambda
type Distribution struct {
	kind distKind
	a, b float64
}

// Const returns a distribution that always yields v.
func Const(v float64) Distribution { return Distribution{kind: distConst, a: v} }

// Uniform returns a uniform distribution on [lo, hi).
func Uniform(lo, hi float64) Distribution { return Distribution{kind: distUniform, a: lo, b: hi} }

// IsConst reports whether d always yields the same value.
func (d Distribution) IsConst() bool { return d.kind == distConst }

// Sample draws one value from r.
func (d Distribution) Sample(r *rand.Rand) float64 {
	switch d.kind {
	case distUniform:
		return distuv.Uniform{Min: d.a, Max: d.b, Src: r}.Rand()
	case distNormal:
		return distuv.Normal{Mu: d.a, Sigma: d.b, Src: r}.Rand()
	case distExpon:
		return distuv.Exponential{Rate: 1 / d.a, Src: r}.Rand()
	default:
		return d.a
	}
}

func numbers(key string, v any, n int, form string) ([]float64, error) {
	list, ok := v.([]any)
	if !ok || len(list) != n {
		return nil, simerr.Config(key, "must be %s", form)
	}
	out := make([]float64, n)
	for i, item := range list {
		f, ok := toFloat(item)
		if !ok {
			return nil, simerr.Config(key, "must be %s", form)
		}
		out[i] = f
	}
	return out, nil
}

// ParseDistribution decodes a distribution value found under key.
func ParseDistribution(key string, v any) (Distribution, error) {
	if f, ok := toFloat(v); ok {
		return Const(f), nil
	}
	if _, ok := v.([]any); ok {
		args, err := numbers(key, v, 2, "[min, max]")
		if err != nil {
			return Distribution{}, err
		}
		return Uniform(args[0], args[1]), nil
	}
	m, ok := asMap(v)
	if !ok {
		return Distribution{}, typeErr(key, "a number, a [min, max] pair or a distribution object", v)
	}
	if len(m) != 1 {
		return Distribution{}, simerr.Config(key, "exactly one distribution type expected, got %v", m.Keys())
	}
	for name, raw := range m {
		switch name {
		case "const":
			args, err := numbers(key, raw, 1, "{const: [value]}")
			if err != nil {
				return Distribution{}, err
			}
			return Const(args[0]), nil
		case "uniform":
			args, err := numbers(key, raw, 2, "{uniform: [min, max]}")
			if err != nil {
				return Distribution{}, err
			}
			return Uniform(args[0], args[1]), nil
		case "normal":
			args, err := numbers(key, raw, 2, "{normal: [mu, sigma]}")
			if err != nil {
				return Distribution{}, err
			}
			if args[1] < 0 || math.IsNaN(args[1]) {
				return Distribution{}, simerr.Config(key, "normal sigma must not be negative")
			}
			return Distribution{kind: distNormal, a: args[0], b: args[1]}, nil
		case "expon":
			args, err := numbers(key, raw, 1, "{expon: [lambda]}")
			if err != nil {
				return Distribution{}, err
			}
			if !(args[0] > 0) || math.IsInf(args[0], 0) {
				return Distribution{}, simerr.Config(key, "expon mean must be positive and finite")
			}
			return Distribution{kind: distExpon, a: args[0]}, nil
		default:
			return Distribution{}, simerr.Config(key, "unknown distribution type %q", name)
		}
	}
	return Distribution{}, nil
}

// Distribution returns key as a distribution, or def when absent.
func (s Settings) Distribution(key string, def Distribution) (Distribution, error) {
	v, ok := s[key]
	if !ok {
		return def, nil
	}
	return ParseDistribution(key, v)
}

// Sample draws key once; def when absent.
func (s Settings) Sample(key string, def float64, r *rand.Rand) (float64, error) {
	d, err := s.Distribution(key, Const(def))
	if err != nil {
		return 0, err
	}
	return d.Sample(r), nil
}
