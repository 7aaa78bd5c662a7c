package env

import "fmt"

// Action grid resolution. Cards index hand slots; x and y quantize the field.
const (
	CardChoices = 4
	XSteps      = 18
	YSteps      = 28
)

// NumActions is the catalogue size including the trailing no-op.
const NumActions = CardChoices*XSteps*YSteps + 1

// NoopCard marks the action that plays nothing this step.
const NoopCard = -1

// NoopIndex is the catalogue position of the no-op action.
const NoopIndex = NumActions - 1

// Action selects a hand slot and a normalized field position. Card is the
// hand slot index, or NoopCard for the no-op.
type Action struct {
	Card int
	X    float64
	Y    float64
}

// IsNoop reports whether the action plays nothing.
func (a Action) IsNoop() bool { return a.Card == NoopCard }

// Catalogue returns the full discrete action catalogue: every (card, x, y)
// combination in card-major order, x before y, with the no-op last.
func Catalogue() []Action {
	actions := make([]Action, 0, NumActions)
	for card := 0; card < CardChoices; card++ {
		for xi := 0; xi < XSteps; xi++ {
			for yi := 0; yi < YSteps; yi++ {
				actions = append(actions, Action{
					Card: card,
					X:    float64(xi) / (XSteps - 1),
					Y:    float64(yi) / (YSteps - 1),
				})
			}
		}
	}
	return append(actions, Action{Card: NoopCard})
}

// Decode maps a catalogue index to its action without materializing the
// catalogue.
func Decode(index int) (Action, error) {
	if index < 0 || index >= NumActions {
		return Action{}, fmt.Errorf("action index %d outside [0,%d): %w", index, NumActions, ErrInvalidAction)
	}
	if index == NoopIndex {
		return Action{Card: NoopCard}, nil
	}
	card := index / (XSteps * YSteps)
	rem := index % (XSteps * YSteps)
	xi := rem / YSteps
	yi := rem % YSteps
	return Action{
		Card: card,
		X:    float64(xi) / (XSteps - 1),
		Y:    float64(yi) / (YSteps - 1),
	}, nil
}
