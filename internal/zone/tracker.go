// Package zone tracks user-drawn hazard polygons and projects them from
// the reference frame they were drawn on onto live frames.
package zone

import (
	"image"
	"log"
	"sync"

	"github.com/technosupport/ts-safety/internal/frame"
)

// Polygon is a closed polygon as ordered vertices in image coordinates.
type Polygon [][2]float64

// Tracker holds the hazard-zone state for one stream. All reads and the
// mutation go through a single lock; the projection computation runs on a
// local copy so the lock is never held across the feature matching.
type Tracker struct {
	mu         sync.Mutex
	polygons   []Polygon
	refGray    *image.Gray
	staticMode bool
	lastGood   *Homography
	warnedOnce bool
	streamID   string
}

func NewTracker(streamID string) *Tracker {
	return &Tracker{streamID: streamID}
}

// SetSafeArea atomically replaces the zone set, its reference frame, and
// the projection mode. The cached homography is discarded.
func (t *Tracker) SetSafeArea(polygons []Polygon, reference *frame.Frame, staticMode bool) {
	var gray *image.Gray
	if reference != nil {
		gray = reference.Gray()
	}

	t.mu.Lock()
	t.polygons = clonePolygons(polygons)
	t.refGray = gray
	t.staticMode = staticMode
	t.lastGood = nil
	t.warnedOnce = false
	t.mu.Unlock()
}

// SetStaticMode flips the projection mode without replacing the zones.
func (t *Tracker) SetStaticMode(static bool) {
	t.mu.Lock()
	t.staticMode = static
	t.mu.Unlock()
}

// StaticMode reports the current projection mode.
func (t *Tracker) StaticMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.staticMode
}

// HasZones reports whether any polygon is configured.
func (t *Tracker) HasZones() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.polygons) > 0
}

// Polygons returns a copy of the configured polygons in reference
// coordinates (for the read API, not for intrusion tests).
func (t *Tracker) Polygons() []Polygon {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clonePolygons(t.polygons)
}

// TransformedSafeAreas returns the polygons projected onto the current
// frame. Static mode returns them unchanged. Dynamic mode estimates a
// homography from the reference frame; on failure it falls back to the
// last good homography, then to identity with a one-shot warning.
func (t *Tracker) TransformedSafeAreas(current *frame.Frame) []Polygon {
	t.mu.Lock()
	polys := clonePolygons(t.polygons)
	refGray := t.refGray
	static := t.staticMode
	t.mu.Unlock()

	if len(polys) == 0 {
		return nil
	}
	if static || refGray == nil {
		return polys
	}

	h, ok := t.estimate(refGray, current)
	if !ok {
		t.mu.Lock()
		if t.lastGood != nil {
			h = *t.lastGood
			ok = true
		} else if !t.warnedOnce {
			t.warnedOnce = true
			log.Printf("[Zone:%s] homography unavailable, projecting with identity", t.streamID)
		}
		t.mu.Unlock()
		if !ok {
			return polys
		}
	} else {
		good := h
		t.mu.Lock()
		t.lastGood = &good
		t.mu.Unlock()
	}

	out := make([]Polygon, len(polys))
	for i, p := range polys {
		q := make(Polygon, len(p))
		for j, v := range p {
			x, y := h.Apply(v[0], v[1])
			q[j] = [2]float64{x, y}
		}
		out[i] = q
	}
	return out
}

func (t *Tracker) estimate(refGray *image.Gray, current *frame.Frame) (Homography, bool) {
	curGray := current.Gray()
	corners := detectCorners(refGray, 8, 6, 12)
	matches := matchCorners(refGray, curGray, corners, 7, 24)
	h, err := estimateHomography(matches)
	if err != nil {
		return Identity(), false
	}
	return h, true
}

// PointInPolygon is the standard ray-casting test.
func PointInPolygon(x, y float64, poly Polygon) bool {
	inside := false
	n := len(poly)
	if n < 3 {
		return false
	}
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := poly[i][0], poly[i][1]
		xj, yj := poly[j][0], poly[j][1]
		if (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// BottomCenterInAny tests a person bbox's bottom-center point against the
// polygon set; this is the intrusion predicate.
func BottomCenterInAny(x1, y1, x2, y2 float64, polys []Polygon) bool {
	cx := (x1 + x2) / 2
	for _, p := range polys {
		if PointInPolygon(cx, y2, p) {
			return true
		}
	}
	return false
}

func clonePolygons(in []Polygon) []Polygon {
	out := make([]Polygon, len(in))
	for i, p := range in {
		out[i] = append(Polygon(nil), p...)
	}
	return out
}
