package rules

import (
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

// scaffoldingStrategy covers fixed scaffold work. Detections of this
// model carry track IDs, so helmet checks go through voting instead of
// firing on a single frame. Structural checks: workers present require a
// guardrail and an outrigger in view, and two workers must not occupy the
// same vertical lane.
type scaffoldingStrategy struct {
	cfg   Config
	votes *helmetVotes
}

func newScaffoldingStrategy(cfg Config) *scaffoldingStrategy {
	return &scaffoldingStrategy{cfg: cfg, votes: newHelmetVotes(cfg)}
}

func (s *scaffoldingStrategy) Model() data.ModelName { return data.ModelScaffolding }

func (s *scaffoldingStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

	workers := 0
	for i, d := range dets {
		if d.Label != "person" {
			continue
		}
		workers++
		if d.Box.Area() < s.cfg.MinPersonArea || d.TrackID == 0 {
			continue
		}
		noHelmet, known := helmetVerdict(d.Box, dets)
		if !known {
			continue
		}
		if s.votes.Cast(d.TrackID, noHelmet) {
			violating[i] = true
			reasons = appendOnce(reasons, ReasonMissingHelmet)
		}
	}

	if workers > 0 {
		if !hasLabel(dets, "guardrail") {
			reasons = append(reasons, ReasonScaffoldNoGuardrail)
		}
		if !hasLabel(dets, "outrigger") {
			reasons = append(reasons, ReasonScaffoldNoOutrigger)
		}
	}

	if stackedWorkers(dets, violating) {
		reasons = append(reasons, ReasonWorkersVerticalStack)
	}

	markLabel(dets, "no_helmet", violating)
	drawDetections(f, dets, violating)
	return reasons
}

func (s *scaffoldingStrategy) Reset() { s.votes.Reset() }

// stackedWorkers reports two persons in the same vertical lane: their
// horizontal spans overlap by at least half of the narrower box while the
// boxes are vertically disjoint. Dropping a tool from the upper level
// endangers the lower worker.
func stackedWorkers(dets []detect.Detection, violating map[int]bool) bool {
	found := false
	for i, a := range dets {
		if a.Label != "person" {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			b := dets[j]
			if b.Label != "person" {
				continue
			}
			if !sameVerticalLane(a.Box, b.Box) {
				continue
			}
			violating[i] = true
			violating[j] = true
			found = true
		}
	}
	return found
}

func sameVerticalLane(a, b detect.BBox) bool {
	ox := minf(a.X2, b.X2) - maxf(a.X1, b.X1)
	if ox <= 0 {
		return false
	}
	narrower := minf(a.X2-a.X1, b.X2-b.X1)
	if narrower <= 0 || ox/narrower < 0.5 {
		return false
	}
	// Vertically disjoint means one box sits fully above the other.
	return a.Y2 < b.Y1 || b.Y2 < a.Y1
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
