package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
)

// Raw screencap layout: width, height and pixel format as little-endian
// uint32s, then packed pixel rows.
const (
	screencapHeaderLen = 12
	formatRGBA8888     = 1
)

// Frame is a decoded RGBA screenshot. Pix holds 4 bytes per pixel, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// ParseScreencap decodes the raw output of `adb exec-out screencap`. Only the
// RGBA_8888 pixel format is supported.
func ParseScreencap(raw []byte) (*Frame, error) {
	if len(raw) < screencapHeaderLen {
		return nil, fmt.Errorf("screencap output too short: %d bytes", len(raw))
	}
	width := int(binary.LittleEndian.Uint32(raw[0:4]))
	height := int(binary.LittleEndian.Uint32(raw[4:8]))
	format := binary.LittleEndian.Uint32(raw[8:12])

	if format != formatRGBA8888 {
		return nil, fmt.Errorf("unsupported screencap pixel format %d", format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid screencap dimensions %dx%d", width, height)
	}

	need := width * height * 4
	pix := raw[screencapHeaderLen:]
	if len(pix) < need {
		return nil, fmt.Errorf("screencap truncated: have %d pixel bytes, need %d", len(pix), need)
	}
	return &Frame{Width: width, Height: height, Pix: pix[:need]}, nil
}

// At returns the red, green and blue components of the pixel at (x, y). The
// caller is responsible for bounds.
func (f *Frame) At(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Crop copies the given region into a new frame. The region must lie inside
// the frame.
func (f *Frame) Crop(r Rect) (*Frame, error) {
	if r.W <= 0 || r.H <= 0 {
		return nil, fmt.Errorf("empty crop region %+v", r)
	}
	if r.X < 0 || r.Y < 0 || r.X+r.W > f.Width || r.Y+r.H > f.Height {
		return nil, fmt.Errorf("crop region %+v outside %dx%d frame", r, f.Width, f.Height)
	}

	pix := make([]byte, r.W*r.H*4)
	for row := 0; row < r.H; row++ {
		src := ((r.Y+row)*f.Width + r.X) * 4
		dst := row * r.W * 4
		copy(pix[dst:dst+r.W*4], f.Pix[src:src+r.W*4])
	}
	return &Frame{Width: r.W, Height: r.H, Pix: pix}, nil
}

// RGBA wraps the frame pixels in an image.RGBA without copying.
func (f *Frame) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// EncodePNG renders the frame as a PNG for the detection service.
func (f *Frame) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.RGBA()); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
