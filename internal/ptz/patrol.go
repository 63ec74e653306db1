package ptz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-safety/internal/config"
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/metrics"
)

// State is the patrol engine's mode. All mutations go through transition
// so flag combinations that the old boolean soup allowed cannot occur.
type State int

const (
	StateOff State = iota
	StatePatrolling
	StateFocusing
	StateCooldown
	StateRestingAtHome
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StatePatrolling:
		return "PATROLLING"
	case StateFocusing:
		return "FOCUSING"
	case StateCooldown:
		return "COOLDOWN"
	case StateRestingAtHome:
		return "RESTING_AT_HOME"
	}
	return "UNKNOWN"
}

var allowedTransitions = map[State][]State{
	StateOff:           {StatePatrolling},
	StatePatrolling:    {StateFocusing, StateRestingAtHome, StateOff},
	StateFocusing:      {StateCooldown, StateOff},
	StateCooldown:      {StatePatrolling, StateOff},
	StateRestingAtHome: {StatePatrolling, StateOff},
}

var (
	ErrPatrolActive  = errors.New("patrol_already_active")
	ErrNoWaypoints   = errors.New("pattern_requires_waypoints")
	ErrNoPatrolArea  = errors.New("grid_requires_patrol_area")
	ErrPatrolStopped = errors.New("patrol_not_active")
)

const (
	pollInterval = 100 * time.Millisecond

	// Settle time after commanding a waypoint move before dwell starts.
	travelSettle = 1 * time.Second

	// A focused object counts as lost after this long without a box.
	objectLostGrace = 1 * time.Second

	// Return-to-position delay after a focus ends, letting the stop
	// command land first.
	returnDelay = 300 * time.Millisecond

	previewDwell = 2 * time.Second
	resumeSettle = 500 * time.Millisecond

	stopJoinTimeout = 15 * time.Second
	stopJoinGrace   = 5 * time.Second

	// Fallback grid dimensions when the config leaves them unset.
	defaultGridCols = 4
	defaultGridRows = 3
)

// PreviewEvents receives pattern-preview progress. The NATS publisher
// implements it.
type PreviewEvents interface {
	PatrolPreviewStart(streamID string, waypoints int)
	PatrolPreviewWaypoint(streamID string, index int, x, y, z float64)
	PatrolPreviewComplete(streamID string)
	PatrolPreviewError(streamID string, reason string)
}

// Patrol drives a camera through a grid or waypoint pattern, interleaving
// object focus, cooldown, and per-cycle rest at home.
type Patrol struct {
	streamID string
	cfg      config.PTZConfig
	ctrl     *Controller
	cam      Camera
	tracker  *AutoTracker
	preview  PreviewEvents

	// PersistHome is called when patrol start captures the home position.
	PersistHome func(data.PTZPosition)

	mu               sync.Mutex
	state            State
	mode             data.PatrolMode
	waypoints        []data.Waypoint
	idx              int
	atWaypoint       bool
	arrivedAt        time.Time
	focusedThisCycle map[int]bool
	focusedThisVisit bool
	focusStart       time.Time
	lastFocusBox     time.Time
	returnPos        data.Waypoint
	cooldownEnd      time.Time
	enableFocus      bool
	cyclesSinceRest  int
	previewActive    bool

	stopCh chan struct{}
	done   chan struct{}
}

func NewPatrol(streamID string, cfg config.PTZConfig, ctrl *Controller, cam Camera, tracker *AutoTracker, preview PreviewEvents) *Patrol {
	return &Patrol{
		streamID: streamID,
		cfg:      cfg,
		ctrl:     ctrl,
		cam:      cam,
		tracker:  tracker,
		preview:  preview,
		state:    StateOff,
	}
}

// State returns the current patrol state.
func (p *Patrol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetFocusEnabled toggles focus interleave during patrol.
func (p *Patrol) SetFocusEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enableFocus = enabled
}

// FocusEnabled reports the focus interleave setting.
func (p *Patrol) FocusEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enableFocus
}

// Start validates the configuration, captures the home position, and
// launches the patrol thread.
func (p *Patrol) Start(mode data.PatrolMode, stream *data.Stream) error {
	p.mu.Lock()
	if p.state != StateOff {
		p.mu.Unlock()
		return ErrPatrolActive
	}

	var waypoints []data.Waypoint
	switch mode {
	case data.PatrolPattern:
		if len(stream.PatrolPattern) < 2 {
			p.mu.Unlock()
			return ErrNoWaypoints
		}
		waypoints = append(waypoints, stream.PatrolPattern...)
	case data.PatrolGrid:
		if stream.PatrolArea == nil {
			p.mu.Unlock()
			return ErrNoPatrolArea
		}
		cols, rows := p.cfg.GridCols, p.cfg.GridRows
		if cols < 2 {
			cols = defaultGridCols
		}
		if rows < 2 {
			rows = defaultGridRows
		}
		waypoints = gridWaypoints(*stream.PatrolArea, cols, rows)
	default:
		p.mu.Unlock()
		return fmt.Errorf("unknown patrol mode %q", mode)
	}

	p.mode = mode
	p.waypoints = waypoints
	p.enableFocus = stream.EnableFocusDuringPatrol
	p.focusedThisCycle = make(map[int]bool)
	p.cyclesSinceRest = 0
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.transitionLocked(StatePatrolling)
	p.mu.Unlock()

	// Capture the current device position as home before the first move.
	ctx, cancel := context.WithTimeout(context.Background(), deviceCallTimeout)
	pos, err := p.cam.Status(ctx)
	cancel()
	if err != nil {
		log.Printf("[Patrol] %s: could not read home position: %v", p.streamID, err)
	} else {
		p.tracker.SetHome(pos)
		if p.PersistHome != nil {
			p.PersistHome(pos)
		}
	}

	go p.run()
	return nil
}

// Stop signals the patrol thread and joins it with a bounded wait.
func (p *Patrol) Stop() {
	p.mu.Lock()
	if p.state == StateOff {
		p.mu.Unlock()
		return
	}
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		log.Printf("[Patrol] %s: patrol thread did not exit within %s, waiting grace period", p.streamID, stopJoinTimeout)
		select {
		case <-done:
		case <-time.After(stopJoinGrace):
			log.Printf("[Patrol] %s: patrol thread still running after grace period", p.streamID)
		}
	}

	p.mu.Lock()
	p.transitionLocked(StateOff)
	p.mu.Unlock()
	p.ctrl.Clear()
	p.ctrl.Enqueue(StopMovement())
}

// HandleDetections feeds one frame's person boxes into the state machine.
// Called from the processing thread when patrol is active.
func (p *Patrol) HandleDetections(boxes []detect.BBox) {
	p.mu.Lock()
	switch p.state {
	case StateOff, StateRestingAtHome:
		// Detections during rest are unconditionally ignored.
		p.mu.Unlock()
		return

	case StateCooldown:
		if !time.Now().Before(p.cooldownEnd) {
			p.transitionLocked(StatePatrolling)
		}
		p.mu.Unlock()
		return

	case StatePatrolling:
		if len(boxes) > 0 && p.canFocusLocked() {
			p.beginFocusLocked()
		}
		p.mu.Unlock()
		return

	case StateFocusing:
		now := time.Now()
		if len(boxes) > 0 {
			p.lastFocusBox = now
		}
		lost := now.Sub(p.lastFocusBox) >= objectLostGrace
		minDone := now.Sub(p.focusStart) >= p.cfg.MinObjectFocusDuration
		maxDone := now.Sub(p.focusStart) >= p.cfg.ObjectFocusDuration
		if (lost && minDone) || maxDone {
			p.endFocusLocked()
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		if len(boxes) > 0 {
			p.tracker.Observe(boxes)
		}

	default:
		p.mu.Unlock()
	}
}

// canFocusLocked implements the focus gate. Grid mode may focus anywhere;
// pattern mode only while dwelling at a waypoint that has not yet focused
// this cycle, and only after the minimum dwell.
func (p *Patrol) canFocusLocked() bool {
	if !p.enableFocus || p.previewActive {
		return false
	}
	if p.mode == data.PatrolGrid {
		return true
	}
	if !p.atWaypoint || p.focusedThisCycle[p.idx] {
		return false
	}
	return time.Since(p.arrivedAt) >= p.cfg.MinWaypointDwell
}

func (p *Patrol) beginFocusLocked() {
	p.focusedThisCycle[p.idx] = true
	p.focusedThisVisit = true
	p.focusStart = time.Now()
	p.lastFocusBox = p.focusStart
	if p.idx < len(p.waypoints) {
		p.returnPos = p.waypoints[p.idx]
	}
	p.transitionLocked(StateFocusing)
}

// endFocusLocked leaves FOCUSING: stale movement is cleared, the camera
// stops, a short-lived thread restores the pre-focus position, and patrol
// resumes after the cooldown.
func (p *Patrol) endFocusLocked() {
	p.cooldownEnd = time.Now().Add(p.cfg.TrackingCooldown)
	ret := p.returnPos
	p.transitionLocked(StateCooldown)

	go func() {
		p.ctrl.Clear()
		p.ctrl.Enqueue(StopMovement())
		time.Sleep(returnDelay)
		p.ctrl.Enqueue(Absolute(ret.X, ret.Y, ret.Z))
	}()
}

func (p *Patrol) run() {
	defer close(p.done)
	log.Printf("[Patrol] %s: starting %s patrol with %d waypoints", p.streamID, p.mode, len(p.waypoints))

	for {
		p.mu.Lock()
		p.focusedThisCycle = make(map[int]bool)
		waypoints := p.waypoints
		p.mu.Unlock()

		for i, wp := range waypoints {
			if !p.visit(i, wp) {
				return
			}
		}

		if p.shouldRest() {
			if !p.restAtHome() {
				return
			}
		}
	}
}

// visit moves to one waypoint and dwells there. Returns false on stop.
func (p *Patrol) visit(i int, wp data.Waypoint) bool {
	if !p.holdForPreview() {
		return false
	}

	p.mu.Lock()
	p.idx = i
	p.atWaypoint = false
	p.focusedThisVisit = false
	p.mu.Unlock()

	p.ctrl.Enqueue(Absolute(wp.X, wp.Y, wp.Z))
	if !p.sleepInterruptible(travelSettle) {
		return false
	}

	p.mu.Lock()
	p.atWaypoint = true
	p.arrivedAt = time.Now()
	p.mu.Unlock()

	deadline := time.Now().Add(p.cfg.PatrolDwell)
	for {
		select {
		case <-p.stopCh:
			return false
		default:
		}

		if p.previewPaused() {
			// The preview owns the camera. Hold here, then re-approach the
			// waypoint and restart the dwell.
			if !p.holdForPreview() {
				return false
			}
			p.ctrl.Enqueue(Absolute(wp.X, wp.Y, wp.Z))
			if !p.sleepInterruptible(travelSettle) {
				return false
			}
			p.mu.Lock()
			p.arrivedAt = time.Now()
			p.mu.Unlock()
			deadline = time.Now().Add(p.cfg.PatrolDwell)
			continue
		}

		p.mu.Lock()
		state := p.state
		focused := p.focusedThisVisit
		cooldownEnd := p.cooldownEnd
		if state == StateCooldown && !time.Now().Before(cooldownEnd) {
			p.transitionLocked(StatePatrolling)
			state = StatePatrolling
		}
		p.mu.Unlock()

		switch {
		case state == StateFocusing || state == StateCooldown:
			// Dwell yields while focus plays out.
		case focused:
			// Focus finished at this waypoint; advance to the next one.
			return true
		case !time.Now().Before(deadline):
			return true
		}
		time.Sleep(pollInterval)
	}
}

func (p *Patrol) shouldRest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == data.PatrolGrid {
		return true
	}
	p.cyclesSinceRest++
	if p.cyclesSinceRest >= p.cfg.RestEveryNCycles {
		p.cyclesSinceRest = 0
		return true
	}
	return false
}

// restAtHome clears tracking state, sends the camera home, and holds for
// the rest duration. Focus requests during rest are denied by state.
func (p *Patrol) restAtHome() bool {
	if !p.holdForPreview() {
		return false
	}

	p.mu.Lock()
	if p.state == StateFocusing {
		// A sweep should not end mid-focus, but if it does, drop it.
		p.cooldownEnd = time.Time{}
	}
	p.transitionLocked(StateRestingAtHome)
	p.mu.Unlock()

	p.ctrl.Clear()
	p.ctrl.Enqueue(StopMovement())
	home := p.tracker.Home()
	p.ctrl.Enqueue(Absolute(home.Pan, home.Tilt, home.Zoom))

	if !p.sleepInterruptible(p.cfg.HomeRestDuration) {
		return false
	}

	p.mu.Lock()
	p.transitionLocked(StatePatrolling)
	p.mu.Unlock()
	return true
}

func (p *Patrol) sleepInterruptible(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-p.stopCh:
			return false
		default:
		}
		time.Sleep(pollInterval)
	}
	return true
}

func (p *Patrol) previewPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previewActive
}

// holdForPreview parks the patrol thread until the preview releases the
// camera. Returns false on stop.
func (p *Patrol) holdForPreview() bool {
	for p.previewPaused() {
		select {
		case <-p.stopCh:
			return false
		default:
		}
		time.Sleep(pollInterval)
	}
	return true
}

// Preview runs a waypoint list once in the background, emitting progress
// events. A running patrol pauses for the preview and resumes afterward.
func (p *Patrol) Preview(waypoints []data.Waypoint) error {
	if len(waypoints) == 0 {
		return ErrNoWaypoints
	}
	p.mu.Lock()
	if p.previewActive {
		p.mu.Unlock()
		return errors.New("preview_already_running")
	}
	p.previewActive = true
	p.mu.Unlock()

	go func() {
		defer func() {
			// Keep the patrol parked through the settle window so the
			// camera is at rest before it re-approaches its waypoint.
			time.Sleep(resumeSettle)
			p.mu.Lock()
			p.previewActive = false
			p.mu.Unlock()
		}()

		// Waypoint moves the patrol queued before it paused are stale now.
		p.ctrl.Clear()

		p.preview.PatrolPreviewStart(p.streamID, len(waypoints))
		for i, wp := range waypoints {
			ctx, cancel := context.WithTimeout(context.Background(), deviceCallTimeout)
			err := p.cam.AbsoluteMove(ctx, wp.X, wp.Y, wp.Z)
			cancel()
			if err != nil {
				log.Printf("[Patrol] %s: preview move failed: %v", p.streamID, err)
				p.preview.PatrolPreviewError(p.streamID, err.Error())
				return
			}
			time.Sleep(previewDwell)
			p.preview.PatrolPreviewWaypoint(p.streamID, i, wp.X, wp.Y, wp.Z)
		}
		p.preview.PatrolPreviewComplete(p.streamID)
	}()
	return nil
}

func (p *Patrol) transitionLocked(to State) {
	if p.state == to {
		return
	}
	if to != StateOff && !transitionAllowed(p.state, to) {
		log.Printf("[Patrol] %s: rejected transition %s -> %s", p.streamID, p.state, to)
		return
	}
	log.Printf("[Patrol] %s: %s -> %s", p.streamID, p.state, to)
	p.state = to
	metrics.PatrolTransitions.WithLabelValues(p.streamID, to.String()).Inc()
}

func transitionAllowed(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// gridWaypoints lays a cols x rows snake over the patrol area: left to
// right on even rows, right to left on odd ones.
func gridWaypoints(area data.PatrolArea, cols, rows int) []data.Waypoint {
	stepX := (area.XMax - area.XMin) / float64(cols-1)
	stepY := (area.YMax - area.YMin) / float64(rows-1)

	out := make([]data.Waypoint, 0, cols*rows)
	for r := 0; r < rows; r++ {
		y := area.YMin + float64(r)*stepY
		for c := 0; c < cols; c++ {
			col := c
			if r%2 == 1 {
				col = cols - 1 - c
			}
			out = append(out, data.Waypoint{
				X: area.XMin + float64(col)*stepX,
				Y: y,
				Z: area.ZoomLevel,
			})
		}
	}
	return out
}
