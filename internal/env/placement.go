package env

import (
	"math"

	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/vision"
)

// Cards whose effect lands on an area instead of spawning units.
var spellCards = map[string]struct{}{
	"Fireball":  {},
	"Zap":       {},
	"Arrows":    {},
	"Tornado":   {},
	"Rocket":    {},
	"Lightning": {},
	"Freeze":    {},
}

// IsSpell reports whether a card name is an area spell.
func IsSpell(card string) bool {
	_, ok := spellCards[card]
	return ok
}

// Troops are dropped on a fixed defensive line in front of the towers.
const troopDropY = 0.75

// PlacementTarget picks where to drop a card, as field fractions in [0, 1].
// Spells aim at the centroid of the visible enemies; troops are dropped on
// the defensive line under the deepest enemy. With no enemies in sight,
// spells fall back to the field center and troops to a safe home position.
func PlacementTarget(card string, detections []vision.Detection, width, height float64) (float64, float64) {
	enemies := enemyUnits(detections)

	if IsSpell(card) {
		if len(enemies) == 0 {
			return 0.5, 0.5
		}
		var cx, cy float64
		for _, u := range enemies {
			cx += u.X
			cy += u.Y
		}
		n := float64(len(enemies))
		return clamp01(cx / n / width), clamp01(cy / n / height)
	}

	if len(enemies) == 0 {
		return 0.5, 0.8
	}
	deepest := enemies[0]
	for _, u := range enemies[1:] {
		if u.Y > deepest.Y {
			deepest = u
		}
	}
	return clamp01(deepest.X / width), troopDropY
}

// enemyUnits filters detections down to enemy units, towers excluded.
func enemyUnits(detections []vision.Detection) []vision.Detection {
	var out []vision.Detection
	for _, d := range detections {
		if d.IsTower() || !d.IsEnemy() {
			continue
		}
		out = append(out, d)
	}
	return out
}

// spellLanded reports whether any tracked enemy in the observation sits
// inside the blast radius of the play target. Both sides of the comparison
// are absolute screen pixels.
func spellLanded(obs []float32, targetX, targetY int) bool {
	if obs == nil {
		return false
	}
	for i := enemyBlockStart; i < ObservationSize; i += 2 {
		xf := float64(obs[i])
		yf := float64(obs[i+1])
		if xf == 0 && yf == 0 {
			continue
		}
		ex, ey := device.FieldToScreen(xf, yf)
		dx := float64(ex - targetX)
		dy := float64(ey - targetY)
		if math.Sqrt(dx*dx+dy*dy) < SpellRadius {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
