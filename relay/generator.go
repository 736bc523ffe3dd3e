package relay

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

// Generator produces new requests under fresh correlation ids
type Generator interface {
	Generate() (uuid.UUID, Request)
}

// RandomGenerator draws both operands uniformly from [0, max]. The
// operands are test data, so a non-cryptographic source is enough.
type RandomGenerator struct {
	max int64
	rng *rand.Rand
}

// NewRandomGenerator creates a generator. A nil rng uses the global source.
func NewRandomGenerator(max int64, rng *rand.Rand) *RandomGenerator {
	return &RandomGenerator{max: max, rng: rng}
}

// Generate implements Generator
func (g *RandomGenerator) Generate() (uuid.UUID, Request) {
	return uuid.New(), NewRequest(g.operand(), g.operand())
}

func (g *RandomGenerator) operand() int64 {
	if g.rng != nil {
		return g.rng.Int64N(g.max + 1)
	}
	return rand.Int64N(g.max + 1)
}
