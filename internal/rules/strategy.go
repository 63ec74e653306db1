// Package rules holds the per-model safety rule sets. Each model is a
// strategy: it annotates the frame and maps detections to reason tokens.
package rules

import (
	"fmt"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/overlay"
)

// Reason tokens. These are stable identifiers stored in event records and
// rendered in overlays; never rename them.
const (
	ReasonMissingHelmet        = "missing_helmet"
	ReasonProximityViolation   = "proximity_violation"
	ReasonIntrusion            = "intrusion"
	ReasonFireDetected         = "fire_detected"
	ReasonSmokeDetected        = "smoke_detected"
	ReasonLadderNoOutrigger    = "ladder_without_outrigger"
	ReasonScaffoldNoGuardrail  = "scaffold_missing_guardrail"
	ReasonScaffoldNoOutrigger  = "scaffold_no_outrigger"
	ReasonWorkersVerticalStack = "workers_vertical_overlap"
	ReasonNoFireExtinguisher   = "missing_fire_extinguisher"
	ReasonNoFirePreventionNet  = "missing_fire_prevention_net"
)

// Strategy evaluates one frame's detections against a model's rule set.
// Evaluate draws labelled boxes onto f and returns the violated reason
// tokens (empty means safe). Reset clears accumulated per-track state and
// is called when the stream stops.
type Strategy interface {
	Model() data.ModelName
	Evaluate(f *frame.Frame, dets []detect.Detection) []string
	Reset()
}

// Config carries the tunable thresholds shared by the strategies.
type Config struct {
	// Helmet voting (tracked models).
	VoteWindow    int     // observations kept per track
	VoteThreshold int     // "no helmet" votes needed to report
	MinPersonArea float64 // px^2; smaller persons are too distant to judge

	// Heavy-equipment proximity.
	ProximityMeters  float64 // alert distance between person and vehicle
	PersonHeightM    float64 // assumed real height used for the px->m scale
	VehicleMoveMinPx float64 // center shift per frame that counts as moving
}

// DefaultConfig returns the thresholds the strategies ship with.
func DefaultConfig() Config {
	return Config{
		VoteWindow:       10,
		VoteThreshold:    6,
		MinPersonArea:    3500,
		ProximityMeters:  2.0,
		PersonHeightM:    1.7,
		VehicleMoveMinPx: 4,
	}
}

// ForModel returns the strategy bound to a model.
func ForModel(model data.ModelName, cfg Config) (Strategy, error) {
	switch model {
	case data.ModelPPE:
		return &ppeStrategy{cfg: cfg}, nil
	case data.ModelLadder:
		return &ladderStrategy{cfg: cfg}, nil
	case data.ModelScaffolding:
		return newScaffoldingStrategy(cfg), nil
	case data.ModelMobileScaffolding:
		return &mobileScaffoldingStrategy{cfg: cfg}, nil
	case data.ModelCuttingWelding:
		return &cuttingWeldingStrategy{cfg: cfg}, nil
	case data.ModelFire:
		return &fireStrategy{}, nil
	case data.ModelHeavyEquipment:
		return newHeavyEquipmentStrategy(cfg), nil
	}
	return nil, fmt.Errorf("rules: no strategy for model %q", model)
}

// PersonBoxes filters the person detections out of a result set.
func PersonBoxes(dets []detect.Detection) []detect.BBox {
	var out []detect.BBox
	for _, d := range dets {
		if d.Label == "person" {
			out = append(out, d.Box)
		}
	}
	return out
}

// headOf is the region of a person box where a helmet would sit.
func headOf(person detect.BBox) detect.BBox {
	return detect.BBox{
		X1: person.X1,
		Y1: person.Y1,
		X2: person.X2,
		Y2: person.Y1 + (person.Y2-person.Y1)*0.4,
	}
}

// helmetVerdict decides whether a person is wearing a helmet by matching
// head-class boxes against the person's head region. The third value is
// false when no head box matched at all, meaning no vote should be cast.
func helmetVerdict(person detect.BBox, dets []detect.Detection) (noHelmet, known bool) {
	head := headOf(person)
	best := 0.0
	for _, d := range dets {
		if d.Label != "helmet" && d.Label != "no_helmet" {
			continue
		}
		if ov := head.IoU(d.Box); ov > best {
			best = ov
			noHelmet = d.Label == "no_helmet"
			known = true
		}
	}
	return noHelmet, known
}

// drawDetections renders every detection; indexes present in the violating
// set are drawn in the unsafe color.
func drawDetections(f *frame.Frame, dets []detect.Detection, violating map[int]bool) {
	for i, d := range dets {
		c := overlay.ColorSafe
		label := d.Label
		if violating[i] {
			c = overlay.ColorUnsafe
		}
		if d.TrackID != 0 {
			label = fmt.Sprintf("%s #%d", d.Label, d.TrackID)
		}
		overlay.Box(f, int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2), c, label)
	}
}

// markLabel adds every detection index with the given label to the set.
func markLabel(dets []detect.Detection, label string, set map[int]bool) {
	for i, d := range dets {
		if d.Label == label {
			set[i] = true
		}
	}
}

func hasLabel(dets []detect.Detection, label string) bool {
	for _, d := range dets {
		if d.Label == label {
			return true
		}
	}
	return false
}
