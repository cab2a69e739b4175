// Package prng derives independent deterministic random streams from one root seed.
//
// A stream is keyed by (seed, label, index), so adding an agent or a market
// never shifts the draws of another component.
package prng

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Labels used by the kernel.
const (
	LabelAgent        = "agent"
	LabelMarket       = "market"
	LabelEvent        = "event"
	LabelSession      = "session"
	LabelFundamentals = "fundamentals"
	LabelConfig       = "config"
)

// Key returns the two 64-bit words that seed the stream (seed, label, index).
func Key(seed uint64, label string, index int) (uint64, uint64) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], seed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(index))

	d := xxhash.New()
	_, _ = d.Write(buf[:8])
	_, _ = d.WriteString(label)
	_, _ = d.Write(buf[8:])
	hi := d.Sum64()

	_, _ = d.Write([]byte{0xff})
	lo := d.Sum64()
	return hi, lo
}

// Derive returns a fresh generator for (seed, label, index).
func Derive(seed uint64, label string, index int) *rand.Rand {
	hi, lo := Key(seed, label, index)
	return rand.New(rand.NewPCG(hi, lo))
}
