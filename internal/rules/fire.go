package rules

import (
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

// fireStrategy reports fire and smoke presence. Persons are drawn for
// context but carry no rule of their own here.
type fireStrategy struct{}

func (s *fireStrategy) Model() data.ModelName { return data.ModelFire }

func (s *fireStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

	if hasLabel(dets, "fire") {
		reasons = append(reasons, ReasonFireDetected)
		markLabel(dets, "fire", violating)
	}
	if hasLabel(dets, "smoke") {
		reasons = append(reasons, ReasonSmokeDetected)
		markLabel(dets, "smoke", violating)
	}
	drawDetections(f, dets, violating)
	return reasons
}

func (s *fireStrategy) Reset() {}
