package device

// Elixir pip color in RGB with a generous per-channel tolerance. The bar
// shimmers during regeneration, so exact matching undercounts.
const (
	elixirR = 225
	elixirG = 128
	elixirB = 229

	elixirTolerance = 80
)

// CountElixir estimates available elixir by sampling one pixel per pip slot
// along the elixir bar. Sample points outside the frame count as empty.
func CountElixir(f *Frame) int {
	count := 0
	for x := ElixirStartX; x < ElixirEndX; x += ElixirStepX {
		if x >= f.Width || ElixirRowY >= f.Height {
			continue
		}
		r, g, b := f.At(x, ElixirRowY)
		if nearChannel(r, elixirR) && nearChannel(g, elixirG) && nearChannel(b, elixirB) {
			count++
		}
	}
	if count > MaxElixir {
		count = MaxElixir
	}
	return count
}

func nearChannel(got uint8, want int) bool {
	diff := int(got) - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= elixirTolerance
}
