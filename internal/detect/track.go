package detect

import (
	"context"
	"time"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/frame"
)

// trackedDetector scopes track-ID assignment to one consumer. The model
// session behind inner is shared across streams; track state must not be,
// or IDs from one camera would continue another camera's numbering.
type trackedDetector struct {
	inner   Detector
	tracker *iouTracker
}

func newTrackedDetector(inner Detector) *trackedDetector {
	return &trackedDetector{inner: inner, tracker: newIOUTracker()}
}

func (t *trackedDetector) Model() data.ModelName { return t.inner.Model() }

func (t *trackedDetector) Detect(ctx context.Context, f *frame.Frame) ([]Detection, error) {
	dets, err := t.inner.Detect(ctx, f)
	if err != nil {
		return nil, err
	}
	t.tracker.assign(dets)
	return dets, nil
}

// Close releases nothing: the provider owns the shared session.
func (t *trackedDetector) Close() error { return nil }

// trackTTL is how long an unmatched track survives before it is dropped.
const trackTTL = 3 * time.Second

// iouTracker assigns stable IDs to person detections across frames by
// greedy IoU matching. It is deliberately simple: the rule strategies
// only need IDs stable enough for vote windows, not re-identification.
type iouTracker struct {
	nextID int
	tracks map[int]trackState
}

type trackState struct {
	box      BBox
	lastSeen time.Time
}

func newIOUTracker() *iouTracker {
	return &iouTracker{nextID: 1, tracks: make(map[int]trackState)}
}

// assign sets TrackID on every "person" detection in place. Non-person
// detections are left untracked.
func (t *iouTracker) assign(dets []Detection) {
	now := time.Now()

	type cand struct {
		detIdx  int
		trackID int
		iou     float64
	}
	var cands []cand
	for i := range dets {
		if dets[i].Label != "person" {
			continue
		}
		for id, tr := range t.tracks {
			if iou := dets[i].Box.IoU(tr.box); iou > 0.2 {
				cands = append(cands, cand{detIdx: i, trackID: id, iou: iou})
			}
		}
	}

	// Greedy: best IoU first, each det and each track used once.
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].iou > cands[j-1].iou; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
	usedDet := make(map[int]bool)
	usedTrack := make(map[int]bool)
	for _, c := range cands {
		if usedDet[c.detIdx] || usedTrack[c.trackID] {
			continue
		}
		usedDet[c.detIdx] = true
		usedTrack[c.trackID] = true
		dets[c.detIdx].TrackID = c.trackID
		t.tracks[c.trackID] = trackState{box: dets[c.detIdx].Box, lastSeen: now}
	}

	// New tracks for unmatched persons.
	for i := range dets {
		if dets[i].Label != "person" || usedDet[i] {
			continue
		}
		id := t.nextID
		t.nextID++
		dets[i].TrackID = id
		t.tracks[id] = trackState{box: dets[i].Box, lastSeen: now}
	}

	// Expire stale tracks.
	for id, tr := range t.tracks {
		if now.Sub(tr.lastSeen) > trackTTL {
			delete(t.tracks, id)
		}
	}
}
