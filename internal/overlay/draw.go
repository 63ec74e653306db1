// Package overlay draws detection results onto frames: labelled boxes,
// hazard polygons, and the per-frame status panel.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/zone"
)

var (
	ColorSafe    = color.RGBA{R: 0x2e, G: 0xcc, B: 0x40, A: 0xff}
	ColorUnsafe  = color.RGBA{R: 0xe5, G: 0x2b, B: 0x2b, A: 0xff}
	ColorWarning = color.RGBA{R: 0xff, G: 0xb3, B: 0x00, A: 0xff}
	ColorZone    = color.RGBA{R: 0x00, G: 0x7b, B: 0xff, A: 0xff}
	colorPanel   = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
	colorText    = color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
)

const boxThickness = 2

// Box draws a rectangle with an optional label above the top-left corner.
func Box(f *frame.Frame, x1, y1, x2, y2 int, c color.RGBA, label string) {
	for t := 0; t < boxThickness; t++ {
		hline(f, x1, x2, y1+t, c)
		hline(f, x1, x2, y2-t, c)
		vline(f, y1, y2, x1+t, c)
		vline(f, y1, y2, x2-t, c)
	}
	if label != "" {
		ty := y1 - 4
		if ty < 12 {
			ty = y1 + 14
		}
		Text(f, x1, ty, label, c)
	}
}

// Polygon draws a closed polygon outline.
func Polygon(f *frame.Frame, poly zone.Polygon, c color.RGBA) {
	n := len(poly)
	if n < 2 {
		return
	}
	for i := 0; i < n; i++ {
		a, b := poly[i], poly[(i+1)%n]
		line(f, int(a[0]), int(a[1]), int(b[0]), int(b[1]), c)
	}
}

// Zones draws every hazard polygon.
func Zones(f *frame.Frame, polys []zone.Polygon) {
	for _, p := range polys {
		Polygon(f, p, ColorZone)
	}
}

// StatusPanel renders the status block in the top-left corner: overall
// status, reasons, worker count, and FPS, with status-adaptive color.
func StatusPanel(f *frame.Frame, safe bool, reasons []string, workers int, fps float64) {
	statusColor := ColorSafe
	status := "SAFE"
	if !safe {
		statusColor = ColorUnsafe
		status = "UNSAFE"
	}

	lines := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Workers: %d", workers),
		fmt.Sprintf("FPS: %.1f", fps),
	}
	if len(reasons) > 0 {
		lines = append(lines, "Reasons: "+strings.Join(reasons, ", "))
	}

	// Background plate sized to the longest line.
	maxLen := 0
	for _, l := range lines {
		if len(l) > maxLen {
			maxLen = len(l)
		}
	}
	plate := image.Rect(6, 6, 14+maxLen*7, 12+len(lines)*16)
	fillRect(f, plate, colorPanel)

	for i, l := range lines {
		c := colorText
		if i == 0 {
			c = statusColor
		}
		Text(f, 10, 20+i*16, l, c)
	}
}

// Text renders a string at the baseline position using the fixed 7x13 face.
func Text(f *frame.Frame, x, y int, s string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  f,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func fillRect(f *frame.Frame, r image.Rectangle, c color.RGBA) {
	draw.Draw(f, r.Intersect(f.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func hline(f *frame.Frame, x1, x2, y int, c color.RGBA) {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	for x := x1; x <= x2; x++ {
		f.Set(x, y, c)
	}
}

func vline(f *frame.Frame, y1, y2, x int, c color.RGBA) {
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	for y := y1; y <= y2; y++ {
		f.Set(x, y, c)
	}
}

// line is Bresenham's algorithm.
func line(f *frame.Frame, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy
	for {
		f.Set(x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x1 += sx
		}
		if e2 <= dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
