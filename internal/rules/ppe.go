package rules

import (
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

// ppeStrategy flags any person observed without a helmet. Persons whose
// box is below the minimum area are too distant to judge and are skipped.
type ppeStrategy struct {
	cfg Config
}

func (s *ppeStrategy) Model() data.ModelName { return data.ModelPPE }

func (s *ppeStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

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

func (s *ppeStrategy) Reset() {}

func appendOnce(reasons []string, token string) []string {
	for _, r := range reasons {
		if r == token {
			return reasons
		}
	}
	return append(reasons, token)
}
