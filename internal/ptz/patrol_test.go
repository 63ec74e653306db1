package ptz

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-safety/internal/config"
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
)

type fakePreview struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePreview) add(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, s)
}

func (f *fakePreview) PatrolPreviewStart(string, int) { f.add("start") }

func (f *fakePreview) PatrolPreviewWaypoint(string, int, float64, float64, float64) {
	f.add("waypoint")
}

func (f *fakePreview) PatrolPreviewComplete(string) { f.add("complete") }

func (f *fakePreview) PatrolPreviewError(string, string) { f.add("error") }

func (f *fakePreview) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func patrolConfig() config.PTZConfig {
	return config.PTZConfig{
		MoveThrottle:           10 * time.Millisecond,
		NoObjectTimeout:        100 * time.Millisecond,
		TrackingCooldown:       200 * time.Millisecond,
		ObjectFocusDuration:    300 * time.Millisecond,
		MinObjectFocusDuration: 100 * time.Millisecond,
		MinWaypointDwell:       300 * time.Millisecond,
		PatrolDwell:            1 * time.Second,
		HomeRestDuration:       400 * time.Millisecond,
		RestEveryNCycles:       1,
		GridCols:               4,
		GridRows:               3,
		MinZoom:                0,
		MaxZoom:                1,
		PanVelocity:            0.8,
		TiltVelocity:           0.8,
		ZoomVelocity:           0.5,
	}
}

func newTestPatrol(t *testing.T, cfg config.PTZConfig) (*Patrol, *fakeCamera, *Controller) {
	t.Helper()
	cam := &fakeCamera{status: data.PTZPosition{Pan: 0.1, Tilt: 0.1, Zoom: 0.2}}
	ctrl := NewController("cam_001", cam)
	t.Cleanup(ctrl.Close)
	tr := NewAutoTracker("cam_001", ctrl, cfg, 1280, 720)
	return NewPatrol("cam_001", cfg, ctrl, cam, tr, &fakePreview{}), cam, ctrl
}

func patternStream() *data.Stream {
	return &data.Stream{
		StreamID: "cam_001",
		PatrolPattern: []data.Waypoint{
			{X: 0.1, Y: -0.2, Z: 0.3},
			{X: 0.3, Y: -0.4, Z: 0.3},
		},
		EnableFocusDuringPatrol: true,
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	p, _, _ := newTestPatrol(t, patrolConfig())

	err := p.Start(data.PatrolPattern, &data.Stream{
		PatrolPattern: []data.Waypoint{{X: 0.1}},
	})
	assert.ErrorIs(t, err, ErrNoWaypoints)

	err = p.Start(data.PatrolGrid, &data.Stream{})
	assert.ErrorIs(t, err, ErrNoPatrolArea)

	assert.Equal(t, StateOff, p.State())
}

func TestStartCapturesHomePosition(t *testing.T) {
	p, cam, _ := newTestPatrol(t, patrolConfig())

	var persisted data.PTZPosition
	var once sync.Once
	saved := make(chan struct{})
	p.PersistHome = func(pos data.PTZPosition) {
		persisted = pos
		once.Do(func() { close(saved) })
	}

	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))
	defer p.Stop()

	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("home position was not persisted")
	}
	assert.Equal(t, data.PTZPosition{Pan: 0.1, Tilt: 0.1, Zoom: 0.2}, persisted)
	assert.Equal(t, 1, cam.count("status"))
	assert.Equal(t, StatePatrolling, p.State())
}

func TestFocusDeniedBeforeMinWaypointDwell(t *testing.T) {
	p, _, _ := newTestPatrol(t, patrolConfig())
	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))
	defer p.Stop()

	// Arrive at waypoint 0: travel settle is 1s, dwell starts after.
	time.Sleep(1100 * time.Millisecond)
	boxes := []detect.BBox{{X1: 900, Y1: 300, X2: 1000, Y2: 500}}

	p.HandleDetections(boxes)
	assert.Equal(t, StatePatrolling, p.State(), "focus too early in dwell must be denied")

	time.Sleep(350 * time.Millisecond)
	p.HandleDetections(boxes)
	assert.Equal(t, StateFocusing, p.State(), "focus after min dwell must engage")
}

func TestFocusEndsByDurationThenCooldown(t *testing.T) {
	p, _, _ := newTestPatrol(t, patrolConfig())
	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))
	defer p.Stop()

	time.Sleep(1500 * time.Millisecond)
	boxes := []detect.BBox{{X1: 900, Y1: 300, X2: 1000, Y2: 500}}
	p.HandleDetections(boxes)
	require.Equal(t, StateFocusing, p.State())

	// Keep feeding until the focus duration expires.
	deadline := time.Now().Add(time.Second)
	for p.State() == StateFocusing && time.Now().Before(deadline) {
		p.HandleDetections(boxes)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, StateCooldown, p.State())

	// Cooldown ends; the next observation flips back to patrolling and is
	// otherwise ignored.
	time.Sleep(250 * time.Millisecond)
	p.HandleDetections(boxes)
	assert.Equal(t, StatePatrolling, p.State())
}

func TestWaypointFocusesOncePerCycle(t *testing.T) {
	p, _, _ := newTestPatrol(t, patrolConfig())
	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))
	defer p.Stop()

	time.Sleep(1500 * time.Millisecond)
	boxes := []detect.BBox{{X1: 900, Y1: 300, X2: 1000, Y2: 500}}
	p.HandleDetections(boxes)
	require.Equal(t, StateFocusing, p.State())

	p.mu.Lock()
	assert.True(t, p.focusedThisCycle[0])
	canAgain := p.canFocusLocked()
	p.mu.Unlock()
	assert.False(t, canAgain, "waypoint 0 must not focus twice this cycle")
}

func TestFocusLostObjectEntersCooldown(t *testing.T) {
	p, _, _ := newTestPatrol(t, patrolConfig())
	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))
	defer p.Stop()

	time.Sleep(1500 * time.Millisecond)
	boxes := []detect.BBox{{X1: 900, Y1: 300, X2: 1000, Y2: 500}}
	p.HandleDetections(boxes)
	require.Equal(t, StateFocusing, p.State())

	// Object disappears. After the lost grace (1s) and past the minimum
	// focus duration, the focus must end.
	deadline := time.Now().Add(2 * time.Second)
	for p.State() == StateFocusing && time.Now().Before(deadline) {
		p.HandleDetections(nil)
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, StateCooldown, p.State())
}

func TestRestAtHomeIgnoresDetections(t *testing.T) {
	cfg := patrolConfig()
	p, cam, _ := newTestPatrol(t, cfg)
	p.tracker.SetHome(data.PTZPosition{Pan: 0.1, Tilt: 0.1, Zoom: 0.2})

	p.mu.Lock()
	p.mode = data.PatrolGrid
	p.stopCh = make(chan struct{})
	p.transitionLocked(StatePatrolling)
	p.mu.Unlock()

	done := make(chan bool)
	go func() { done <- p.restAtHome() }()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateRestingAtHome, p.State())

	// Inbound boxes during rest must not change state or move the camera.
	before := cam.count("cont")
	p.HandleDetections([]detect.BBox{{X1: 900, Y1: 300, X2: 1000, Y2: 500}})
	assert.Equal(t, StateRestingAtHome, p.State())
	assert.Equal(t, before, cam.count("cont"))

	assert.True(t, <-done)
	assert.Equal(t, StatePatrolling, p.State())

	time.Sleep(400 * time.Millisecond)
	assert.GreaterOrEqual(t, cam.count("abs 0.10 0.10 0.20"), 1, "camera sent home for the rest")
}

func TestStopJoinsPatrolThread(t *testing.T) {
	p, _, _ := newTestPatrol(t, patrolConfig())
	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))

	p.Stop()
	assert.Equal(t, StateOff, p.State())
}

func TestGridWaypointsSnakeOrder(t *testing.T) {
	area := data.PatrolArea{XMin: 0, XMax: 3, YMin: 0, YMax: 2, ZoomLevel: 0.5}
	wps := gridWaypoints(area, 4, 3)
	require.Len(t, wps, 12)

	// Row 0 runs left to right.
	assert.Equal(t, 0.0, wps[0].X)
	assert.Equal(t, 3.0, wps[3].X)
	// Row 1 runs right to left.
	assert.Equal(t, 3.0, wps[4].X)
	assert.Equal(t, 0.0, wps[7].X)
	for _, wp := range wps {
		assert.Equal(t, 0.5, wp.Z)
	}
}

func TestGridWaypointsConfigurableDimensions(t *testing.T) {
	area := data.PatrolArea{XMin: -1, XMax: 1, YMin: -1, YMax: 1, ZoomLevel: 0.3}
	wps := gridWaypoints(area, 3, 2)
	require.Len(t, wps, 6)
	assert.Equal(t, -1.0, wps[0].X)
	assert.Equal(t, 0.0, wps[1].X)
	assert.Equal(t, 1.0, wps[2].X)
	// Second row snakes back.
	assert.Equal(t, 1.0, wps[3].X)
}

func TestPreviewPausesRunningPatrol(t *testing.T) {
	p, cam, _ := newTestPatrol(t, patrolConfig())

	require.NoError(t, p.Start(data.PatrolPattern, patternStream()))
	defer p.Stop()

	patrolMoves := func() int {
		return cam.count("abs 0.10") + cam.count("abs 0.30")
	}

	// Wait for the patrol to reach its first waypoint.
	deadline := time.Now().Add(3 * time.Second)
	for patrolMoves() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	require.NotZero(t, patrolMoves(), "patrol never started moving")

	require.NoError(t, p.Preview([]data.Waypoint{{X: 0.9, Y: 0.9, Z: 0.9}}))

	// Give the preview a moment to claim the camera.
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 1, cam.count("abs 0.90 0.90 0.90"))
	before := patrolMoves()

	// The patrol dwell is 1s, so an unpaused patrol would advance here.
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, before, patrolMoves(), "patrol moved while a preview held the camera")

	// After the preview completes the patrol re-approaches its waypoint.
	deadline = time.Now().Add(5 * time.Second)
	for patrolMoves() == before && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	assert.Greater(t, patrolMoves(), before, "patrol did not resume after the preview")
}

func TestPreviewEmitsEvents(t *testing.T) {
	cfg := patrolConfig()
	cam := &fakeCamera{}
	ctrl := NewController("cam_001", cam)
	defer ctrl.Close()
	tr := NewAutoTracker("cam_001", ctrl, cfg, 1280, 720)
	pv := &fakePreview{}
	p := NewPatrol("cam_001", cfg, ctrl, cam, tr, pv)

	require.NoError(t, p.Preview([]data.Waypoint{{X: 0.1}, {X: 0.2}}))

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		evs := pv.snapshot()
		if len(evs) == 4 {
			assert.Equal(t, []string{"start", "waypoint", "waypoint", "complete"}, evs)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("preview events incomplete: %v", pv.snapshot())
}
