package device

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Match is the center of the best template hit and its correlation score.
type Match struct {
	X     int
	Y     int
	Score float32
}

// Matcher locates UI markers in screenshots by normalized cross correlation.
// Loaded templates are cached for the life of the matcher.
type Matcher struct {
	dir    string
	logger zerolog.Logger

	mu        sync.Mutex
	templates map[string]gocv.Mat
}

// NewMatcher creates a matcher that loads template images from dir.
func NewMatcher(dir string, logger zerolog.Logger) *Matcher {
	return &Matcher{
		dir:       dir,
		logger:    logger.With().Str("component", "matcher").Logger(),
		templates: make(map[string]gocv.Mat),
	}
}

// Close releases all cached template mats.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, tmpl := range m.templates {
		tmpl.Close()
		delete(m.templates, name)
	}
	return nil
}

func (m *Matcher) template(name string) (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tmpl, ok := m.templates[name]; ok {
		return tmpl, nil
	}
	path := filepath.Join(m.dir, name)
	tmpl := gocv.IMRead(path, gocv.IMReadColor)
	if tmpl.Empty() {
		return gocv.Mat{}, fmt.Errorf("failed to load template %s", path)
	}
	m.templates[name] = tmpl
	return tmpl, nil
}

// Find searches a region of the frame for the named template. Thresholds are
// tried in order, so callers list them from strict to lenient; the first one
// the best score clears wins.
func (m *Matcher) Find(frame *Frame, name string, region Rect, confidences []float64) (Match, bool, error) {
	if region.X < 0 || region.Y < 0 || region.X+region.W > frame.Width || region.Y+region.H > frame.Height {
		return Match{}, false, fmt.Errorf("search region %+v outside %dx%d frame", region, frame.Width, frame.Height)
	}

	tmpl, err := m.template(name)
	if err != nil {
		return Match{}, false, err
	}

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC4, frame.Pix)
	if err != nil {
		return Match{}, false, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer src.Close()

	// Templates are stored BGR on disk, so bring the frame into the same
	// channel order before correlating.
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorRGBAToBGR)

	roi := bgr.Region(image.Rect(region.X, region.Y, region.X+region.W, region.Y+region.H))
	defer roi.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(roi, tmpl, &result, gocv.TmCcoeffNormed, mask)

	_, score, _, loc := gocv.MinMaxLoc(result)

	confidence, ok := firstCleared(score, confidences)
	if !ok {
		return Match{}, false, nil
	}
	match := Match{
		X:     region.X + loc.X + tmpl.Cols()/2,
		Y:     region.Y + loc.Y + tmpl.Rows()/2,
		Score: score,
	}
	m.logger.Debug().
		Str("template", name).
		Float64("threshold", confidence).
		Float32("score", score).
		Int("x", match.X).
		Int("y", match.Y).
		Msg("Template matched")
	return match, true, nil
}

// firstCleared walks the threshold list in order and returns the first one
// the score meets. Callers list thresholds from strict to lenient.
func firstCleared(score float32, confidences []float64) (float64, bool) {
	for _, confidence := range confidences {
		if float64(score) >= confidence {
			return confidence, true
		}
	}
	return 0, false
}
