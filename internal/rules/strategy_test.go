package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

func testFrame() *frame.Frame {
	return &frame.Frame{Pix: make([]byte, 640*480*3), W: 640, H: 480}
}

// person returns a detection big enough to pass the area exemption.
func person(x, y float64, trackID int) detect.Detection {
	return detect.Detection{
		Label:      "person",
		Confidence: 0.9,
		Box:        detect.BBox{X1: x, Y1: y, X2: x + 80, Y2: y + 160},
		TrackID:    trackID,
	}
}

// bareHead places a no_helmet box over the person's head region.
func bareHead(p detect.Detection) detect.Detection {
	return detect.Detection{
		Label:      "no_helmet",
		Confidence: 0.8,
		Box:        detect.BBox{X1: p.Box.X1 + 20, Y1: p.Box.Y1, X2: p.Box.X2 - 20, Y2: p.Box.Y1 + 40},
	}
}

func TestForModelCoversEveryModel(t *testing.T) {
	for m := range data.ValidModels {
		s, err := ForModel(m, DefaultConfig())
		require.NoError(t, err, "model %s", m)
		assert.Equal(t, m, s.Model())
	}

	_, err := ForModel(data.ModelName("bogus"), DefaultConfig())
	assert.Error(t, err)
}

func TestPPEMissingHelmet(t *testing.T) {
	s, err := ForModel(data.ModelPPE, DefaultConfig())
	require.NoError(t, err)

	p := person(100, 100, 0)
	reasons := s.Evaluate(testFrame(), []detect.Detection{p, bareHead(p)})
	assert.Equal(t, []string{ReasonMissingHelmet}, reasons)
}

func TestPPEHelmetOnIsSafe(t *testing.T) {
	s, err := ForModel(data.ModelPPE, DefaultConfig())
	require.NoError(t, err)

	p := person(100, 100, 0)
	helmet := detect.Detection{
		Label: "helmet",
		Box:   detect.BBox{X1: 120, Y1: 100, X2: 160, Y2: 140},
	}
	reasons := s.Evaluate(testFrame(), []detect.Detection{p, helmet})
	assert.Empty(t, reasons)
}

func TestPPEDistantPersonExempt(t *testing.T) {
	s, err := ForModel(data.ModelPPE, DefaultConfig())
	require.NoError(t, err)

	// 40x60 = 2400 px^2, under the 3500 minimum.
	small := detect.Detection{
		Label: "person",
		Box:   detect.BBox{X1: 10, Y1: 10, X2: 50, Y2: 70},
	}
	head := detect.Detection{
		Label: "no_helmet",
		Box:   detect.BBox{X1: 15, Y1: 10, X2: 45, Y2: 30},
	}
	reasons := s.Evaluate(testFrame(), []detect.Detection{small, head})
	assert.Empty(t, reasons)
}

func TestFireTokens(t *testing.T) {
	s, err := ForModel(data.ModelFire, DefaultConfig())
	require.NoError(t, err)

	dets := []detect.Detection{
		{Label: "fire", Box: detect.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}},
		{Label: "smoke", Box: detect.BBox{X1: 5, Y1: 5, X2: 100, Y2: 50}},
	}
	reasons := s.Evaluate(testFrame(), dets)
	assert.ElementsMatch(t, []string{ReasonFireDetected, ReasonSmokeDetected}, reasons)
}

func TestHelmetVotingSuppressesSingleFrame(t *testing.T) {
	s := newScaffoldingStrategy(DefaultConfig())

	p := person(200, 100, 7)
	// Five bad observations stay under the six-vote threshold.
	for i := 0; i < 5; i++ {
		reasons := s.Evaluate(testFrame(), []detect.Detection{p, bareHead(p)})
		assert.NotContains(t, reasons, ReasonMissingHelmet, "observation %d", i)
	}
	// The sixth crosses it.
	reasons := s.Evaluate(testFrame(), []detect.Detection{p, bareHead(p)})
	assert.Contains(t, reasons, ReasonMissingHelmet)
}

func TestHelmetVotingResetClearsHistory(t *testing.T) {
	s := newScaffoldingStrategy(DefaultConfig())

	p := person(200, 100, 7)
	for i := 0; i < 6; i++ {
		s.Evaluate(testFrame(), []detect.Detection{p, bareHead(p)})
	}
	s.Reset()
	reasons := s.Evaluate(testFrame(), []detect.Detection{p, bareHead(p)})
	assert.NotContains(t, reasons, ReasonMissingHelmet)
}

func TestScaffoldStructuralChecks(t *testing.T) {
	s := newScaffoldingStrategy(DefaultConfig())

	p := person(200, 100, 3)
	reasons := s.Evaluate(testFrame(), []detect.Detection{p})
	assert.Contains(t, reasons, ReasonScaffoldNoGuardrail)
	assert.Contains(t, reasons, ReasonScaffoldNoOutrigger)

	dets := []detect.Detection{
		p,
		{Label: "guardrail", Box: detect.BBox{X1: 0, Y1: 80, X2: 640, Y2: 100}},
		{Label: "outrigger", Box: detect.BBox{X1: 100, Y1: 400, X2: 200, Y2: 460}},
	}
	reasons = s.Evaluate(testFrame(), dets)
	assert.NotContains(t, reasons, ReasonScaffoldNoGuardrail)
	assert.NotContains(t, reasons, ReasonScaffoldNoOutrigger)
}

func TestWorkersVerticalOverlap(t *testing.T) {
	s := newScaffoldingStrategy(DefaultConfig())

	upper := person(200, 40, 1)
	lower := person(210, 260, 2)
	dets := []detect.Detection{
		upper, lower,
		{Label: "guardrail", Box: detect.BBox{X1: 0, Y1: 80, X2: 640, Y2: 100}},
		{Label: "outrigger", Box: detect.BBox{X1: 100, Y1: 400, X2: 200, Y2: 460}},
	}
	reasons := s.Evaluate(testFrame(), dets)
	assert.Contains(t, reasons, ReasonWorkersVerticalStack)

	// Side by side is fine.
	s.Reset()
	sideA := person(100, 200, 1)
	sideB := person(400, 200, 2)
	reasons = s.Evaluate(testFrame(), []detect.Detection{
		sideA, sideB,
		{Label: "guardrail", Box: detect.BBox{X1: 0, Y1: 80, X2: 640, Y2: 100}},
		{Label: "outrigger", Box: detect.BBox{X1: 100, Y1: 400, X2: 200, Y2: 460}},
	})
	assert.NotContains(t, reasons, ReasonWorkersVerticalStack)
}

func TestHotWorkRequiresFireGear(t *testing.T) {
	s, err := ForModel(data.ModelCuttingWelding, DefaultConfig())
	require.NoError(t, err)

	torch := detect.Detection{Label: "torch", Box: detect.BBox{X1: 300, Y1: 200, X2: 340, Y2: 240}}
	reasons := s.Evaluate(testFrame(), []detect.Detection{torch})
	assert.ElementsMatch(t, []string{ReasonNoFireExtinguisher, ReasonNoFirePreventionNet}, reasons)

	dets := []detect.Detection{
		torch,
		{Label: "fire_extinguisher", Box: detect.BBox{X1: 500, Y1: 300, X2: 530, Y2: 360}},
		{Label: "fire_prevention_net", Box: detect.BBox{X1: 250, Y1: 250, X2: 450, Y2: 400}},
	}
	reasons = s.Evaluate(testFrame(), dets)
	assert.Empty(t, reasons)
}

func TestProximityToMovingVehicle(t *testing.T) {
	s := newHeavyEquipmentStrategy(DefaultConfig())

	worker := person(300, 200, 5)
	vehicle := func(x float64) detect.Detection {
		return detect.Detection{
			Label: "excavator",
			Box:   detect.BBox{X1: x, Y1: 150, X2: x + 200, Y2: 370},
		}
	}

	// First frame establishes the vehicle; it has no previous position, so
	// it cannot be moving yet.
	reasons := s.Evaluate(testFrame(), []detect.Detection{worker, vehicle(380)})
	assert.NotContains(t, reasons, ReasonProximityViolation)

	// Second frame shifts the vehicle toward the worker.
	reasons = s.Evaluate(testFrame(), []detect.Detection{worker, vehicle(370)})
	assert.Contains(t, reasons, ReasonProximityViolation)
}

func TestStationaryVehicleNoProximity(t *testing.T) {
	s := newHeavyEquipmentStrategy(DefaultConfig())

	worker := person(300, 200, 5)
	vehicle := detect.Detection{
		Label: "dump_truck",
		Box:   detect.BBox{X1: 380, Y1: 150, X2: 580, Y2: 370},
	}
	s.Evaluate(testFrame(), []detect.Detection{worker, vehicle})
	reasons := s.Evaluate(testFrame(), []detect.Detection{worker, vehicle})
	assert.NotContains(t, reasons, ReasonProximityViolation)
}

func TestPersonBoxes(t *testing.T) {
	dets := []detect.Detection{
		person(10, 10, 0),
		{Label: "helmet", Box: detect.BBox{X1: 20, Y1: 10, X2: 60, Y2: 40}},
		person(300, 50, 0),
	}
	assert.Len(t, PersonBoxes(dets), 2)
}
