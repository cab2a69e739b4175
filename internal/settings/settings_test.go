package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"

	"github.com/zappabad/marketsim/internal/prng"
	"github.com/zappabad/marketsim/internal/simerr"
)

func decode(t *testing.T, src string) Settings {
	t.Helper()
	var s Settings
	require.NoError(t, yaml.Unmarshal([]byte(src), &s))
	return s
}

func TestAccessors(t *testing.T) {
	s := decode(t, `
cashAmount: 10000
assetVolume: 50
tickSize: 0.01
name: fcn
enabled: true
markets: [A, B]
weights: [1, 2.5]
nested: {x: 1}
`)

	f, err := s.Float("cashAmount", 0)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, f)

	n, err := s.Int("assetVolume", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	_, err = s.Int("tickSize", 0)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	name, err := s.String("name", "")
	require.NoError(t, err)
	assert.Equal(t, "fcn", name)

	on, err := s.Bool("enabled", false)
	require.NoError(t, err)
	assert.True(t, on)

	markets, err := s.Strings("markets")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, markets)

	ws, err := s.Floats("weights")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, ws)

	sub, err := s.Sub("nested")
	require.NoError(t, err)
	x, err := sub.Int("x", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)

	def, err := s.Float("missing", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, def)

	_, err = s.RequireBool("missing")
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	_, err = s.Bool("name", false)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestParseDistribution(t *testing.T) {
	s := decode(t, `
c: 5
pair: [1, 2]
const: {const: [7]}
uni: {uniform: [10, 20]}
norm: {normal: [0, 1]}
exp: {expon: [3]}
bad: {normal: [1]}
two: {const: [1], uniform: [1, 2]}
unknown: {beta: [1, 2]}
`)
	r := prng.Derive(1, "test", 0)

	for _, key := range []string{"c", "const"} {
		d, err := s.Distribution(key, Const(0))
		require.NoError(t, err)
		assert.True(t, d.IsConst())
	}
	v, err := s.Sample("const", 0, r)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	for _, key := range []string{"bad", "two", "unknown"} {
		_, err := s.Distribution(key, Const(0))
		assert.ErrorIs(t, err, simerr.ErrConfiguration, key)
	}

	for i := 0; i < 100; i++ {
		v, err := s.Sample("uni", 0, r)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 10.0)
		assert.Less(t, v, 20.0)

		v, err = s.Sample("exp", 0, r)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestUniformStaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.Float64Range(-1000, 1000).Draw(t, "lo")
		width := rapid.Float64Range(0.001, 1000).Draw(t, "width")
		seed := rapid.Uint64().Draw(t, "seed")
		v := Uniform(lo, lo+width).Sample(prng.Derive(seed, "uniform", 0))
		if v < lo || v > lo+width {
			t.Fatalf("%v outside [%v, %v)", v, lo, lo+width)
		}
	})
}

func TestExtend(t *testing.T) {
	all := map[string]Settings{
		"Base":   {"class": "RandomLimit", "cashAmount": 100, "assetVolume": 1, "numAgents": 10},
		"Middle": {"extends": "Base", "assetVolume": 2},
		"Child":  {"extends": "Middle", "cashAmount": 5},
		"LoopA":  {"extends": "LoopB"},
		"LoopB":  {"extends": "LoopA"},
		"Broken": {"extends": "Nope"},
	}

	got, err := Extend(all, "Child", all["Child"], "numAgents")
	require.NoError(t, err)
	assert.Equal(t, Settings{"class": "RandomLimit", "cashAmount": 5, "assetVolume": 2}, got)
	assert.Contains(t, all["Child"], "extends", "input untouched")

	_, err = Extend(all, "LoopA", all["LoopA"])
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	_, err = Extend(all, "Broken", all["Broken"])
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestDistributionMoments(t *testing.T) {
	s := decode(t, `
norm: {normal: [5, 2]}
exp: {expon: [3]}
negSigma: {normal: [0, -1]}
zeroMean: {expon: [0]}
`)
	for _, key := range []string{"negSigma", "zeroMean"} {
		_, err := s.Distribution(key, Const(0))
		assert.ErrorIs(t, err, simerr.ErrConfiguration, key)
	}

	const n = 20000
	r := prng.Derive(9, "moments", 0)
	for key, mean := range map[string]float64{"norm": 5, "exp": 3} {
		d, err := s.Distribution(key, Const(0))
		require.NoError(t, err)
		var sum float64
		for i := 0; i < n; i++ {
			sum += d.Sample(r)
		}
		assert.InDelta(t, mean, sum/n, 0.1, key)
	}
}
