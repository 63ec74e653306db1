package rules

import (
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

// mobileScaffoldingStrategy covers rolling towers: workers on the tower
// require a guardrail and locked outriggers, plus the helmet check.
type mobileScaffoldingStrategy struct {
	cfg Config
}

func (s *mobileScaffoldingStrategy) Model() data.ModelName { return data.ModelMobileScaffolding }

func (s *mobileScaffoldingStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

	workers := 0
	for i, d := range dets {
		if d.Label != "person" {
			continue
		}
		workers++
		if d.Box.Area() < s.cfg.MinPersonArea {
			continue
		}
		if noHelmet, known := helmetVerdict(d.Box, dets); known && noHelmet {
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

	markLabel(dets, "no_helmet", violating)
	drawDetections(f, dets, violating)
	return reasons
}

func (s *mobileScaffoldingStrategy) Reset() {}
