package dronestate

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is one decoded video image: Height rows of Width pixels, Channels
// bytes per pixel, row-major. Frames are never modified after they are
// published.
type Frame struct {
	Height   int
	Width    int
	Channels int
	Pix      []byte
}

// NewFrame wraps pix as a height x width RGB frame without copying.
func NewFrame(height, width int, pix []byte) (*Frame, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("frame: invalid dimensions %dx%d", width, height)
	}
	if len(pix) != height*width*3 {
		return nil, fmt.Errorf("frame: %d bytes for %dx%d RGB, want %d", len(pix), width, height, height*width*3)
	}
	return &Frame{Height: height, Width: width, Channels: 3, Pix: pix}, nil
}

// BlankFrame returns an all-black RGB frame.
func BlankFrame(height, width int) *Frame {
	return &Frame{Height: height, Width: width, Channels: 3, Pix: make([]byte, height*width*3)}
}

// ColorModel implements image.Image.
func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

// At implements image.Image.
func (f *Frame) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return color.RGBA{}
	}
	i := (y*f.Width + x) * f.Channels
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}
