package rules

import (
	"math"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
)

var vehicleLabels = map[string]bool{
	"excavator":  true,
	"dump_truck": true,
	"forklift":   true,
}

// heavyEquipmentStrategy covers machine yards. Helmet checks go through
// per-track voting. A person within the proximity distance of a moving
// vehicle raises a proximity violation; distance is estimated in meters
// by scaling pixels against the person's box height.
type heavyEquipmentStrategy struct {
	cfg     Config
	votes   *helmetVotes
	prevVeh []detect.BBox
}

func newHeavyEquipmentStrategy(cfg Config) *heavyEquipmentStrategy {
	return &heavyEquipmentStrategy{cfg: cfg, votes: newHelmetVotes(cfg)}
}

func (s *heavyEquipmentStrategy) Model() data.ModelName { return data.ModelHeavyEquipment }

func (s *heavyEquipmentStrategy) Evaluate(f *frame.Frame, dets []detect.Detection) []string {
	violating := map[int]bool{}
	var reasons []string

	moving := s.movingVehicles(dets)

	for i, d := range dets {
		if d.Label != "person" {
			continue
		}
		if d.Box.Area() >= s.cfg.MinPersonArea && d.TrackID != 0 {
			if noHelmet, known := helmetVerdict(d.Box, dets); known {
				if s.votes.Cast(d.TrackID, noHelmet) {
					violating[i] = true
					reasons = appendOnce(reasons, ReasonMissingHelmet)
				}
			}
		}
		for j, isMoving := range moving {
			if !isMoving {
				continue
			}
			if s.distanceMeters(d.Box, dets[j].Box) < s.cfg.ProximityMeters {
				violating[i] = true
				violating[j] = true
				reasons = appendOnce(reasons, ReasonProximityViolation)
			}
		}
	}

	markLabel(dets, "no_helmet", violating)
	drawDetections(f, dets, violating)
	return reasons
}

func (s *heavyEquipmentStrategy) Reset() {
	s.votes.Reset()
	s.prevVeh = nil
}

// movingVehicles compares vehicle boxes against the previous frame and
// marks vehicles whose center shifted by more than the configured minimum.
// A vehicle with no previous match is treated as stationary.
func (s *heavyEquipmentStrategy) movingVehicles(dets []detect.Detection) map[int]bool {
	moving := map[int]bool{}
	var current []detect.BBox
	for i, d := range dets {
		if !vehicleLabels[d.Label] {
			continue
		}
		current = append(current, d.Box)
		for _, prev := range s.prevVeh {
			if d.Box.IoU(prev) < 0.3 {
				continue
			}
			dx := d.Box.CenterX() - prev.CenterX()
			dy := d.Box.CenterY() - prev.CenterY()
			if math.Hypot(dx, dy) >= s.cfg.VehicleMoveMinPx {
				moving[i] = true
			}
		}
	}
	s.prevVeh = current
	return moving
}

// distanceMeters estimates ground distance between a person and a vehicle.
// The person's box height stands in for PersonHeightM meters; distance is
// measured between the boxes' bottom centers.
func (s *heavyEquipmentStrategy) distanceMeters(person, vehicle detect.BBox) float64 {
	h := person.Y2 - person.Y1
	if h <= 0 {
		return math.Inf(1)
	}
	metersPerPx := s.cfg.PersonHeightM / h
	dx := person.CenterX() - vehicle.CenterX()
	dy := person.Y2 - vehicle.Y2
	return math.Hypot(dx, dy) * metersPerPx
}
