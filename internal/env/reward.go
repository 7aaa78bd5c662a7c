package env

import (
	"math"

	"github.com/krazyness/CRBot-public/internal/device"
)

// Reward shaping constants.
const (
	// TerminalReward is added on victory and subtracted on defeat.
	TerminalReward = 100
	// TowerBonus is earned when an enemy princess tower disappears.
	TowerBonus = 20
	// SpellPenalty is charged for a spell that lands near no tracked enemy.
	SpellPenalty = 5
	// SpellRadius is the hit test distance for spells, in screen pixels.
	SpellRadius = 100
)

// RewardState carries the cross-step memory the shaped reward needs: the
// previous elixir level and enemy presence, so favorable trades can be
// scored.
type RewardState struct {
	prevElixir   float64
	prevPresence float64
	seeded       bool
}

// Reset clears cross-step memory at the start of an episode.
func (s *RewardState) Reset() {
	*s = RewardState{}
}

// Score computes the shaped reward for an observation. Enemy presence is
// penalized outright; spending elixir while presence drops earns twice the
// smaller of the two deltas. A nil observation scores zero and leaves the
// state untouched.
func (s *RewardState) Score(obs []float32) float64 {
	if obs == nil {
		return 0
	}

	elixir := float64(obs[0]) * device.MaxElixir
	presence := EnemyPresence(obs)

	reward := -presence
	if s.seeded {
		spent := s.prevElixir - elixir
		reduced := s.prevPresence - presence
		if spent > 0 && reduced > 0 {
			reward += 2 * math.Min(spent, reduced)
		}
	}

	s.prevElixir = elixir
	s.prevPresence = presence
	s.seeded = true
	return reward
}
