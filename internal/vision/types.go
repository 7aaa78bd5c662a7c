package vision

import (
	"math"
	"strings"
)

// Detection is a single object reported by the detection service. X and Y are
// the center of the bounding box in screenshot pixel coordinates.
type Detection struct {
	Class string  `json:"class"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Tower classes are fixed structures. They are tracked for match bookkeeping
// but excluded from unit observations.
var towerClasses = map[string]struct{}{
	"ally king tower":      {},
	"ally princess tower":  {},
	"enemy king tower":     {},
	"enemy princess tower": {},
}

// NormalizeClass lowercases a class label and trims surrounding whitespace so
// that model-side label drift ("Enemy King Tower ") does not break matching.
func NormalizeClass(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}

// IsTower reports whether the detection is one of the four tower classes.
func (d Detection) IsTower() bool {
	_, ok := towerClasses[NormalizeClass(d.Class)]
	return ok
}

// IsAlly reports whether the detection belongs to the ally side.
func (d Detection) IsAlly() bool {
	return strings.HasPrefix(NormalizeClass(d.Class), "ally")
}

// IsEnemy reports whether the detection belongs to the enemy side.
func (d Detection) IsEnemy() bool {
	return strings.HasPrefix(NormalizeClass(d.Class), "enemy")
}

// IsEnemyPrincessTower reports whether the detection is an enemy princess
// tower, the structure whose destruction earns a step bonus.
func (d Detection) IsEnemyPrincessTower() bool {
	return NormalizeClass(d.Class) == "enemy princess tower"
}

// Valid reports whether the detection carries a usable class label and finite
// coordinates. Invalid records are dropped before they reach the environment.
func (d Detection) Valid() bool {
	if strings.TrimSpace(d.Class) == "" {
		return false
	}
	if math.IsNaN(d.X) || math.IsInf(d.X, 0) {
		return false
	}
	if math.IsNaN(d.Y) || math.IsInf(d.Y, 0) {
		return false
	}
	return true
}
