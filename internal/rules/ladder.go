package rules

import (
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

// ladderStrategy checks ladder work: a ladder in use must stand on an
// outrigger, and the worker must wear a helmet.
type ladderStrategy struct {
	cfg Config
}

func (s *ladderStrategy) Model() data.ModelName { return data.ModelLadder }

func (s *ladderStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

	ladderInUse := false
	for _, d := range dets {
		if d.Label != "ladder" {
			continue
		}
		// A ladder counts as in use when a person overlaps it.
		for _, p := range PersonBoxes(dets) {
			if d.Box.IoU(p) > 0 {
				ladderInUse = true
			}
		}
	}
	if ladderInUse && !hasLabel(dets, "outrigger") {
		reasons = append(reasons, ReasonLadderNoOutrigger)
		markLabel(dets, "ladder", violating)
	}

	for i, d := range dets {
		if d.Label != "person" || d.Box.Area() < s.cfg.MinPersonArea {
			continue
		}
		if noHelmet, known := helmetVerdict(d.Box, dets); known && noHelmet {
			violating[i] = true
			reasons = appendOnce(reasons, ReasonMissingHelmet)
		}
	}
	markLabel(dets, "no_helmet", violating)
	drawDetections(f, dets, violating)
	return reasons
}

func (s *ladderStrategy) Reset() {}
