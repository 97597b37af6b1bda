// Package params implements the default parameter generator: a functor that
// fills a parameter tuple with i.i.d. uniform integer draws, one independent
// bound per parameter slot.
package params

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// UniformGenerator draws each parameter independently and uniformly from
// [0, limit[p]] inclusive. It owns its own PRNG, seeded from OS entropy at
// construction, and guards it with a mutex, so one instance can be shared
// by trees trained concurrently (the engine's only parallelism granularity).
type UniformGenerator struct {
	limits []int
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewUniformGenerator returns a generator with a single upper bound applied
// to every one of numParams parameters.
func NewUniformGenerator(numParams, limit int) *UniformGenerator {
	limits := make([]int, numParams)
	for i := range limits {
		limits[i] = limit
	}
	return &UniformGenerator{limits: limits, rng: newSeededRand()}
}

// NewUniformGeneratorWithLimits returns a generator with a distinct upper
// bound for each parameter slot; len(limits) determines the arity.
func NewUniformGeneratorWithLimits(limits []int) *UniformGenerator {
	owned := make([]int, len(limits))
	copy(owned, limits)
	return &UniformGenerator{limits: owned, rng: newSeededRand()}
}

// Generate fills params (which must have length equal to the generator's
// arity) with fresh uniform draws. Satisfies forest.ParamFunc.
func (g *UniformGenerator) Generate(params []int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p := range params {
		params[p] = g.rng.IntN(g.limits[p] + 1)
	}
}

func newSeededRand() *rand.Rand {
	var seed1, seed2 uint64
	var buf [16]byte
	if _, err := cryptorand.Read(buf[:]); err == nil {
		seed1 = binary.LittleEndian.Uint64(buf[0:8])
		seed2 = binary.LittleEndian.Uint64(buf[8:16])
	} else {
		// crypto/rand is documented to never fail on supported platforms;
		// fall back to a fixed seed only so construction never panics.
		seed1, seed2 = 0x5eed1, 0x5eed2
	}
	return rand.New(rand.NewPCG(seed1, seed2))
}
