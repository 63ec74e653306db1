package rules

import (
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

// cuttingWeldingStrategy covers hot work. An active torch requires a fire
// extinguisher and a fire prevention net within view, and the worker must
// wear a helmet.
type cuttingWeldingStrategy struct {
	cfg Config
}

func (s *cuttingWeldingStrategy) Model() data.ModelName { return data.ModelCuttingWelding }

func (s *cuttingWeldingStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

	if hasLabel(dets, "torch") {
		if !hasLabel(dets, "fire_extinguisher") {
			reasons = append(reasons, ReasonNoFireExtinguisher)
			markLabel(dets, "torch", violating)
		}
		if !hasLabel(dets, "fire_prevention_net") {
			reasons = append(reasons, ReasonNoFirePreventionNet)
			markLabel(dets, "torch", violating)
		}
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

func (s *cuttingWeldingStrategy) Reset() {}
