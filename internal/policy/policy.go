package policy

import (
	"math/rand"

	"github.com/krazyness/CRBot-public/internal/env"
)

// Policy picks the next action index for an observation.
type Policy interface {
	SelectAction(obs []float32) int
}

// Random samples uniformly from the action catalogue. It is the exploration
// baseline the bot ships with.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a random policy from a seed.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// SelectAction returns a uniformly random catalogue index. Without an
// observation it stays on the no-op instead of playing cards blind.
func (p *Random) SelectAction(obs []float32) int {
	if obs == nil {
		return env.NoopIndex
	}
	return p.rng.Intn(env.NumActions)
}
