// Package valuation computes the post-transfer market-value uplift for a
// player who has just been bought.
//
// The uplift is a uniformly drawn whole percentage in [MinBumpPercent,
// MaxBumpPercent], so a transferred player's value grows by a factor in
// [1.10, 1.99].
package valuation

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinBumpPercent = 10
	MaxBumpPercent = 99
)

var hundred = decimal.NewFromInt(100)

// RandomSource yields integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it; tests supply deterministic sequences.
type RandomSource interface {
	IntN(n int) int
}

// Policy draws the uplift percentage from a single shared source. The
// source is guarded by a mutex because *rand.Rand is not safe for
// concurrent use and Buy runs on many request goroutines at once.
type Policy struct {
	mu  sync.Mutex
	src RandomSource
}

// NewPolicy wraps src. A nil src gets a PCG generator seeded once from the
// clock, never per call.
func NewPolicy(src RandomSource) *Policy {
	if src == nil {
		src = NewSource(0)
	}
	return &Policy{src: src}
}

// NewSource returns a PCG-backed source. A zero seed is replaced with the
// current time.
func NewSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// DrawPercent returns a whole percentage in [MinBumpPercent, MaxBumpPercent].
func (p *Policy) DrawPercent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return MinBumpPercent + p.src.IntN(MaxBumpPercent-MinBumpPercent+1)
}

// BumpValue returns current * (1 + pct/100) for a freshly drawn pct.
func (p *Policy) BumpValue(current decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromInt(int64(p.DrawPercent())).Div(hundred)
	return current.Mul(decimal.NewFromInt(1).Add(pct))
}

// IntN exposes the shared source to other generators (roster names, ages)
// under the same lock.
func (p *Policy) IntN(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src.IntN(n)
}
