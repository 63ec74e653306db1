// Package detect defines the detector boundary. The frame processor only
// sees Detections; model weights and inference internals stay behind the
// Detector interface.
package detect

import (
	"context"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/frame"
)

// BBox is an axis-aligned box in image pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CenterX returns the horizontal center.
func (b BBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the vertical center.
func (b BBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// IoU is intersection-over-union with another box.
func (b BBox) IoU(o BBox) float64 {
	ix1, iy1 := maxf(b.X1, o.X1), maxf(b.Y1, o.Y1)
	ix2, iy2 := minf(b.X2, o.X2), minf(b.Y2, o.Y2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one detected object.
type Detection struct {
	Label      string
	Confidence float64
	Box        BBox
	TrackID    int // 0 when the model is not tracked
}

// Detector runs one model on one frame.
type Detector interface {
	// Detect returns raw detections for the frame. A detector error means
	// the frame is dropped; the stream continues.
	Detect(ctx context.Context, f *frame.Frame) ([]Detection, error)
	Model() data.ModelName
	Close() error
}

// Provider builds detectors per model; the registry uses it so engines
// share loaded sessions where the backend allows.
type Provider interface {
	Detector(model data.ModelName) (Detector, error)
}

// modelClasses maps each model to its class list, index-aligned with the
// network output.
var modelClasses = map[data.ModelName][]string{
	data.ModelPPE:               {"person", "helmet", "no_helmet", "safety_vest"},
	data.ModelLadder:            {"person", "helmet", "no_helmet", "ladder", "outrigger"},
	data.ModelScaffolding:       {"person", "helmet", "no_helmet", "hook", "guardrail", "outrigger"},
	data.ModelMobileScaffolding: {"person", "helmet", "no_helmet", "guardrail", "outrigger"},
	data.ModelCuttingWelding:    {"person", "helmet", "no_helmet", "torch", "fire_extinguisher", "fire_prevention_net"},
	data.ModelFire:              {"fire", "smoke", "person"},
	data.ModelHeavyEquipment:    {"person", "helmet", "no_helmet", "excavator", "dump_truck", "forklift"},
}

// Classes returns the label set of a model.
func Classes(model data.ModelName) []string {
	return modelClasses[model]
}

// trackedModels run the IoU tracker so rule strategies can vote per ID.
var trackedModels = map[data.ModelName]bool{
	data.ModelHeavyEquipment: true,
	data.ModelScaffolding:    true,
}

// Tracked reports whether detections of this model carry track IDs.
func Tracked(model data.ModelName) bool { return trackedModels[model] }

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
