package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/frame"
)

func trackedPerson(x1, y1, x2, y2 float64) Detection {
	return Detection{
		Label:      "person",
		Confidence: 0.9,
		Box:        BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}
}

func TestIOUTrackerStableAcrossFrames(t *testing.T) {
	tr := newIOUTracker()

	first := []Detection{trackedPerson(100, 100, 200, 300)}
	tr.assign(first)
	require.Equal(t, 1, first[0].TrackID)

	// Slightly shifted box keeps its ID.
	second := []Detection{trackedPerson(110, 105, 210, 305)}
	tr.assign(second)
	assert.Equal(t, 1, second[0].TrackID)

	// A disjoint box opens a new track.
	third := []Detection{trackedPerson(110, 105, 210, 305), trackedPerson(500, 100, 600, 300)}
	tr.assign(third)
	assert.Equal(t, 1, third[0].TrackID)
	assert.Equal(t, 2, third[1].TrackID)
}

func TestIOUTrackerIgnoresNonPersons(t *testing.T) {
	tr := newIOUTracker()
	dets := []Detection{
		{Label: "excavator", Box: BBox{X1: 100, Y1: 100, X2: 400, Y2: 400}},
		trackedPerson(500, 100, 600, 300),
	}
	tr.assign(dets)
	assert.Equal(t, 0, dets[0].TrackID)
	assert.Equal(t, 1, dets[1].TrackID)
}

// fixedDetector stands in for a shared model session.
type fixedDetector struct {
	dets []Detection
}

func (d *fixedDetector) Detect(ctx context.Context, f *frame.Frame) ([]Detection, error) {
	out := make([]Detection, len(d.dets))
	copy(out, d.dets)
	return out, nil
}

func (d *fixedDetector) Model() data.ModelName { return data.ModelScaffolding }
func (d *fixedDetector) Close() error          { return nil }

func TestTrackedDetectorIsolatesStreams(t *testing.T) {
	ctx := context.Background()
	f := frame.New(640, 480)
	inner := &fixedDetector{}

	// Two detectors over the same session, one per stream.
	streamA := newTrackedDetector(inner)
	streamB := newTrackedDetector(inner)

	// Stream A sees two workers and assigns IDs 1 and 2.
	inner.dets = []Detection{trackedPerson(100, 100, 200, 300), trackedPerson(400, 100, 500, 300)}
	detsA, err := streamA.Detect(ctx, f)
	require.NoError(t, err)
	require.Equal(t, 1, detsA[0].TrackID)
	require.Equal(t, 2, detsA[1].TrackID)

	// Stream B's first worker overlaps A's second by position. It must get
	// stream B's first ID, not match A's track.
	inner.dets = []Detection{trackedPerson(405, 102, 505, 302)}
	detsB, err := streamB.Detect(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, detsB[0].TrackID, "track IDs must not continue across streams")

	// Stream A's numbering is unaffected by B's frames.
	inner.dets = []Detection{trackedPerson(402, 101, 502, 301)}
	detsA, err = streamA.Detect(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 2, detsA[0].TrackID, "stream A keeps its own track")
}
