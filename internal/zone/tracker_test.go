package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-safety/internal/frame"
)

var square = Polygon{{100, 100}, {400, 100}, {400, 300}, {100, 300}}

func TestPointInPolygon(t *testing.T) {
	assert.True(t, PointInPolygon(250, 200, square))
	assert.False(t, PointInPolygon(50, 200, square))
	assert.False(t, PointInPolygon(250, 350, square))

	// Degenerate polygons never contain anything.
	assert.False(t, PointInPolygon(0, 0, Polygon{{0, 0}, {1, 1}}))
}

func TestPointInConcavePolygon(t *testing.T) {
	// L-shape: the notch at the top right is outside.
	l := Polygon{{0, 0}, {10, 0}, {10, 4}, {6, 4}, {6, 10}, {0, 10}}
	assert.True(t, PointInPolygon(3, 7, l))
	assert.False(t, PointInPolygon(8, 7, l))
}

func TestBottomCenterInAny(t *testing.T) {
	polys := []Polygon{square}

	// Bottom center (250, 290) is inside.
	assert.True(t, BottomCenterInAny(200, 150, 300, 290, polys))
	// Head inside, feet below the zone: not an intrusion.
	assert.False(t, BottomCenterInAny(200, 150, 300, 350, polys))
	assert.False(t, BottomCenterInAny(500, 150, 600, 290, polys))
}

func TestTrackerStaticModeReturnsUnchanged(t *testing.T) {
	tr := NewTracker("cam-1")
	tr.SetSafeArea([]Polygon{square}, nil, true)

	f := frame.New(640, 480)
	out := tr.TransformedSafeAreas(f)
	require.Len(t, out, 1)
	assert.Equal(t, square, out[0])
}

func TestTrackerNoZones(t *testing.T) {
	tr := NewTracker("cam-1")
	assert.False(t, tr.HasZones())
	assert.Nil(t, tr.TransformedSafeAreas(frame.New(640, 480)))

	tr.SetSafeArea([]Polygon{square}, nil, true)
	assert.True(t, tr.HasZones())
}

func TestTrackerDynamicWithoutReferenceFallsBack(t *testing.T) {
	tr := NewTracker("cam-1")
	// Dynamic mode but no reference image: identity projection.
	tr.SetSafeArea([]Polygon{square}, nil, false)

	out := tr.TransformedSafeAreas(frame.New(640, 480))
	require.Len(t, out, 1)
	assert.Equal(t, square, out[0])
}

func TestTrackerSetStaticModeFlips(t *testing.T) {
	tr := NewTracker("cam-1")
	tr.SetSafeArea([]Polygon{square}, nil, false)
	assert.False(t, tr.StaticMode())
	tr.SetStaticMode(true)
	assert.True(t, tr.StaticMode())
}

func TestPolygonsReturnsCopy(t *testing.T) {
	tr := NewTracker("cam-1")
	tr.SetSafeArea([]Polygon{square}, nil, true)

	got := tr.Polygons()
	got[0][0] = [2]float64{-999, -999}

	fresh := tr.Polygons()
	assert.Equal(t, square[0], fresh[0][0])
}

func TestHomographyIdentity(t *testing.T) {
	h := Identity()
	x, y := h.Apply(123.5, 77.25)
	assert.InDelta(t, 123.5, x, 1e-9)
	assert.InDelta(t, 77.25, y, 1e-9)
}

func TestEstimateHomographyFromTranslation(t *testing.T) {
	// Correspondences shifted by (12, -7) should recover a pure
	// translation.
	matches := []match{
		{sx: 10, sy: 10, dx: 22, dy: 3},
		{sx: 200, sy: 20, dx: 212, dy: 13},
		{sx: 30, sy: 180, dx: 42, dy: 173},
		{sx: 220, sy: 200, dx: 232, dy: 193},
		{sx: 120, sy: 90, dx: 132, dy: 83},
		{sx: 60, sy: 240, dx: 72, dy: 233},
		{sx: 300, sy: 150, dx: 312, dy: 143},
		{sx: 150, sy: 300, dx: 162, dy: 293},
	}
	h, err := estimateHomography(matches)
	require.NoError(t, err)

	x, y := h.Apply(100, 100)
	assert.InDelta(t, 112, x, 0.5)
	assert.InDelta(t, 93, y, 0.5)
}
