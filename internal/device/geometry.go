package device

// The bot assumes a 1280x720 landscape emulator. All UI coordinates below are
// absolute screen pixels at that resolution.
const (
	ScreenWidth  = 1280
	ScreenHeight = 720
)

// Playable arena region. Placement fractions scale into this rectangle.
const (
	FieldTopLeftX     = 0
	FieldTopLeftY     = 100
	FieldBottomRightX = 1280
	FieldBottomRightY = 620

	FieldWidth  = FieldBottomRightX - FieldTopLeftX
	FieldHeight = FieldBottomRightY - FieldTopLeftY
)

// Card bar at the bottom of the screen, four fixed-width slots.
const (
	CardBarX      = 200
	CardBarY      = 620
	CardBarWidth  = 880
	CardBarHeight = 100
	CardSlotWidth = 220
	HandSize      = 4
)

// Elixir bar sample row. Ten sample points starting at ElixirStartX, one per
// elixir pip, spaced ElixirStepX apart.
const (
	ElixirRowY   = 650
	ElixirStartX = 400
	ElixirEndX   = 880
	ElixirStepX  = 48
	MaxElixir    = 10
)

// Rect is a pixel region of the device screen.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// FieldRect returns the playable arena region.
func FieldRect() Rect {
	return Rect{X: FieldTopLeftX, Y: FieldTopLeftY, W: FieldWidth, H: FieldHeight}
}

// CardSlotRect returns the crop region for one hand slot.
func CardSlotRect(slot int) Rect {
	return Rect{
		X: CardBarX + slot*CardSlotWidth,
		Y: CardBarY,
		W: CardSlotWidth,
		H: CardBarHeight,
	}
}

// FieldToScreen converts normalized field fractions to absolute screen
// coordinates. Fractions are truncated to whole pixels before the field
// origin offset is applied.
func FieldToScreen(xFrac, yFrac float64) (int, int) {
	x := int(xFrac*FieldWidth) + FieldTopLeftX
	y := int(yFrac*FieldHeight) + FieldTopLeftY
	return x, y
}
