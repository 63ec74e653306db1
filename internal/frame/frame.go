// Package frame holds the in-memory BGR frame buffer the capture pipeline
// produces and every downstream component consumes. The layout matches
// ffmpeg's rawvideo bgr24 output so decoded bytes are used in place.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"
)

// Frame is a single decoded BGR frame. It implements draw.Image so the
// overlay package can draw on it directly, without a pixel-format copy.
type Frame struct {
	Pix       []byte // BGR, 3 bytes per pixel, row-major
	W, H      int
	Timestamp time.Time
}

// New allocates a black frame at the given geometry.
func New(w, h int) *Frame {
	return &Frame{Pix: make([]byte, w*h*3), W: w, H: h, Timestamp: time.Now()}
}

// FromBGR wraps a raw bgr24 buffer. The buffer is owned by the frame after
// this call.
func FromBGR(pix []byte, w, h int, ts time.Time) (*Frame, error) {
	if len(pix) != w*h*3 {
		return nil, fmt.Errorf("bgr buffer size %d does not match %dx%d", len(pix), w, h)
	}
	return &Frame{Pix: pix, W: w, H: h, Timestamp: ts}, nil
}

// Clone copies the pixel buffer. The processing thread clones before
// handing a frame to the recorder so overlay writes never race the clip.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Pix: pix, W: f.W, H: f.H, Timestamp: f.Timestamp}
}

// ColorModel implements image.Image.
func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.W, f.H) }

// At implements image.Image.
func (f *Frame) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= f.W || y >= f.H {
		return color.RGBA{}
	}
	i := (y*f.W + x) * 3
	return color.RGBA{R: f.Pix[i+2], G: f.Pix[i+1], B: f.Pix[i], A: 0xff}
}

// Set implements draw.Image.
func (f *Frame) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= f.W || y >= f.H {
		return
	}
	r, g, b, _ := c.RGBA()
	i := (y*f.W + x) * 3
	f.Pix[i] = byte(b >> 8)
	f.Pix[i+1] = byte(g >> 8)
	f.Pix[i+2] = byte(r >> 8)
}

// EncodeJPEG returns the frame as a JPEG at the given quality.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gray returns a luma plane, used for feature matching in the zone tracker.
func (f *Frame) Gray() *image.Gray {
	g := image.NewGray(f.Bounds())
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			i := (y*f.W + x) * 3
			// BT.601 luma weights, integer approximation.
			lum := (299*int(f.Pix[i+2]) + 587*int(f.Pix[i+1]) + 114*int(f.Pix[i])) / 1000
			g.Pix[y*g.Stride+x] = byte(lum)
		}
	}
	return g
}
