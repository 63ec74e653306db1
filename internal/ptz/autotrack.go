package ptz

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/technosupport/ts-safety/internal/config"
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
)

const (
	// Tolerance floor: corrections stop once the subject is within this
	// fraction of the frame from center, regardless of zoom.
	minTolerance = 0.05

	baseTolerance = 0.15

	// Box-to-frame area ratios steering zoom.
	zoomInBelow  = 0.05
	zoomOutAbove = 0.40
)

// AutoTracker turns person boxes into camera velocity commands. One move
// at most per throttle interval; after a detection drought it sends the
// camera home exactly once.
type AutoTracker struct {
	ctrl     *Controller
	cfg      config.PTZConfig
	streamID string
	w, h     float64

	mu            sync.Mutex
	zoom          float64
	home          data.PTZPosition
	atDefault     bool
	moving        bool
	lastMove      time.Time
	lastDetection time.Time

	// OnZoomChange is invoked outside the lock whenever the nominal zoom
	// level moves, so the engine can publish it.
	OnZoomChange func(zoom float64)
}

func NewAutoTracker(streamID string, ctrl *Controller, cfg config.PTZConfig, frameW, frameH int) *AutoTracker {
	return &AutoTracker{
		ctrl:          ctrl,
		cfg:           cfg,
		streamID:      streamID,
		w:             float64(frameW),
		h:             float64(frameH),
		zoom:          cfg.MinZoom,
		atDefault:     true,
		lastDetection: time.Now(),
	}
}

// SetHome records the position the camera returns to on tracking loss.
func (t *AutoTracker) SetHome(pos data.PTZPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.home = pos
	t.zoom = clamp(pos.Zoom, t.cfg.MinZoom, t.cfg.MaxZoom)
}

// Home returns the stored home position.
func (t *AutoTracker) Home() data.PTZPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.home
}

// ZoomLevel returns the current nominal zoom.
func (t *AutoTracker) ZoomLevel() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.zoom
}

// LastDetection returns when a box was last observed.
func (t *AutoTracker) LastDetection() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastDetection
}

// Observe consumes one frame's person boxes and emits at most one
// command. Safe to call from the processing thread; commands go through
// the controller queue.
func (t *AutoTracker) Observe(boxes []detect.BBox) {
	t.mu.Lock()

	now := time.Now()
	if len(boxes) == 0 {
		if !t.atDefault && now.Sub(t.lastDetection) >= t.cfg.NoObjectTimeout {
			home := t.home
			t.atDefault = true
			t.moving = false
			t.zoom = clamp(home.Zoom, t.cfg.MinZoom, t.cfg.MaxZoom)
			t.mu.Unlock()
			log.Printf("[PTZ] %s: no detections for %s, returning home", t.streamID, t.cfg.NoObjectTimeout)
			t.ctrl.Enqueue(Absolute(home.Pan, home.Tilt, home.Zoom))
			return
		}
		t.mu.Unlock()
		return
	}

	t.lastDetection = now
	t.atDefault = false

	if now.Sub(t.lastMove) < t.cfg.MoveThrottle {
		t.mu.Unlock()
		return
	}

	dx, dy, areaRatio := frameGeometry(boxes, t.w, t.h)
	tol := math.Max(minTolerance, baseTolerance*(1-t.zoom))

	var pan, tilt float64
	if math.Abs(dx) > tol {
		pan = clamp(t.cfg.PanVelocity*dx, -1, 1)
	}
	if math.Abs(dy) > tol {
		// Image y grows downward; tilt axis grows upward.
		tilt = clamp(-t.cfg.TiltVelocity*dy, -1, 1)
	}

	zoomCmd := 0.0
	maxDist := math.Max(math.Abs(dx), math.Abs(dy))
	if areaRatio < zoomInBelow && t.zoom < t.cfg.MaxZoom {
		zoomCmd = t.cfg.ZoomVelocity * (1 - maxDist)
	} else if areaRatio > zoomOutAbove && t.zoom > t.cfg.MinZoom {
		zoomCmd = -t.cfg.ZoomVelocity * (1 + maxDist)
	}
	if zoomCmd != 0 {
		t.zoom = clamp(t.zoom+zoomCmd*0.1, t.cfg.MinZoom, t.cfg.MaxZoom)
	}
	newZoom := t.zoom

	if pan == 0 && tilt == 0 && zoomCmd == 0 {
		wasMoving := t.moving
		t.moving = false
		t.mu.Unlock()
		if wasMoving {
			t.ctrl.Enqueue(StopMovement())
		}
		return
	}

	t.moving = true
	t.lastMove = now
	onZoom := t.OnZoomChange
	t.mu.Unlock()

	t.ctrl.Enqueue(Continuous(pan, tilt, zoomCmd))
	if zoomCmd != 0 && onZoom != nil {
		onZoom(newZoom)
	}
}

// AtDefault reports whether the camera has been sent home.
func (t *AutoTracker) AtDefault() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.atDefault
}

// frameGeometry reduces the boxes to the normalized offset of their mean
// center from frame center and the summed box-to-frame area ratio.
func frameGeometry(boxes []detect.BBox, w, h float64) (dx, dy, areaRatio float64) {
	var sumX, sumY, sumArea float64
	for _, b := range boxes {
		sumX += b.CenterX()
		sumY += b.CenterY()
		sumArea += b.Area()
	}
	n := float64(len(boxes))
	dx = (sumX/n - w/2) / w
	dy = (sumY/n - h/2) / h
	areaRatio = sumArea / (w * h)
	return dx, dy, areaRatio
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
