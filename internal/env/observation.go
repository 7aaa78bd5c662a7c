package env

import (
	"sort"

	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/vision"
)

// MaxUnitsPerSide caps how many units each side contributes to the
// observation.
const MaxUnitsPerSide = 10

// ObservationSize is one elixir entry plus (x, y) pairs for both sides.
const ObservationSize = 1 + 2*(MaxUnitsPerSide+MaxUnitsPerSide)

const enemyBlockStart = 1 + 2*MaxUnitsPerSide

// BuildObservation flattens elixir and unit positions into the fixed vector
// the policy consumes: normalized elixir, then the ally block, then the
// enemy block, each padded with (0, 0) pairs. Towers are excluded. A nil
// return means the detector saw nothing, which is distinct from an empty
// field.
func BuildObservation(elixir int, detections []vision.Detection, width, height float64) []float32 {
	if len(detections) == 0 || width <= 0 || height <= 0 {
		return nil
	}

	var allies, enemies []vision.Detection
	for _, d := range detections {
		if d.IsTower() {
			continue
		}
		switch {
		case d.IsAlly():
			allies = append(allies, d)
		case d.IsEnemy():
			enemies = append(enemies, d)
		}
	}

	obs := make([]float32, 0, ObservationSize)
	obs = append(obs, float32(elixir)/device.MaxElixir)
	obs = appendSide(obs, allies, width, height)
	obs = appendSide(obs, enemies, width, height)
	return obs
}

// appendSide emits up to MaxUnitsPerSide normalized (x, y) pairs. When a side
// overflows, the units deepest down the field win the slots.
func appendSide(obs []float32, units []vision.Detection, width, height float64) []float32 {
	if len(units) > MaxUnitsPerSide {
		sort.SliceStable(units, func(i, j int) bool { return units[i].Y > units[j].Y })
		units = units[:MaxUnitsPerSide]
	}
	for _, u := range units {
		obs = append(obs, float32(u.X/width), float32(u.Y/height))
	}
	for i := len(units); i < MaxUnitsPerSide; i++ {
		obs = append(obs, 0, 0)
	}
	return obs
}

// EnemyPresence sums the enemy block of an observation. More enemy mass
// deeper down the field reads as higher presence.
func EnemyPresence(obs []float32) float64 {
	total := 0.0
	for _, v := range obs[enemyBlockStart:] {
		total += float64(v)
	}
	return total
}
