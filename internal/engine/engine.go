package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/technosupport/ts-safety/internal/capture"
	"github.com/technosupport/ts-safety/internal/config"
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/metrics"
	"github.com/technosupport/ts-safety/internal/ptz"
	"github.com/technosupport/ts-safety/internal/rules"
	"github.com/technosupport/ts-safety/internal/state"
	"github.com/technosupport/ts-safety/internal/zone"
)

var (
	ErrNotRunning     = errors.New("stream_not_running")
	ErrAlreadyRunning = errors.New("stream_already_running")
	ErrNoPTZ          = errors.New("stream_has_no_ptz")
	ErrNoFrameYet     = errors.New("no_frame_available")
)

const (
	healthInterval = 1 * time.Second
	workerJoinWait = 10 * time.Second
)

// EventsBus is the outbound event surface the engine publishes on.
type EventsBus interface {
	AlertPublisher
	AutotrackChanged(streamID string, enabled bool)
	ZoomLevel(streamID string, zoom float64)
	ptz.PreviewEvents
}

// Deps bundles the shared collaborators every stream engine uses.
type Deps struct {
	Cfg      *config.Store
	Streams  data.StreamRepository
	Events   data.EventRepository
	Detector detect.Provider
	Bus      EventsBus
	Notifier Notices
	Store    *state.Store

	// NewCamera builds the PTZ device client; nil selects ONVIF. An
	// injected constructor lets tests run without a camera.
	NewCamera func(creds data.PTZCredentials) ptz.Camera

	// NewClip overrides the clip writer factory; nil selects ffmpeg.
	NewClip ClipWriterFactory
}

// Engine owns every per-stream component and its worker threads.
type Engine struct {
	deps Deps

	mu      sync.Mutex
	stream  *data.Stream
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	pipeline  *capture.Pipeline
	zones     *zone.Tracker
	stats     *Stats
	processor *Processor
	recorder  *Recorder
	sink      *Sink
	strategy  rules.Strategy

	ptzCtrl  *ptz.Controller
	tracker  *ptz.AutoTracker
	patrol   *ptz.Patrol
	cam      ptz.Camera
	ptzReady bool

	latestMu sync.Mutex
	latest   *frame.Frame
}

// NewEngine builds an engine for one stream configuration. Nothing runs
// until Start.
func NewEngine(deps Deps, stream *data.Stream) *Engine {
	return &Engine{deps: deps, stream: stream}
}

// StreamID returns the engine's stream identifier.
func (e *Engine) StreamID() string { return e.stream.StreamID }

// Stream returns a copy of the current configuration.
func (e *Engine) Stream() data.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stream
}

// Start spawns the capture and processing workers, restores persisted
// hazard-zone and patrol state, and kicks off async PTZ initialization.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	cfg := e.deps.Cfg.Get()
	s := e.stream

	strategy, err := rules.ForModel(s.ModelName, rules.DefaultConfig())
	if err != nil {
		e.mu.Unlock()
		return err
	}
	detector, err := e.deps.Detector.Detector(s.ModelName)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine %s: detector: %w", s.StreamID, err)
	}

	e.strategy = strategy
	e.stats = NewStats(cfg.FPSQueueSize)
	e.zones = zone.NewTracker(s.StreamID)
	e.sink = NewSink(s.StreamID, cfg.RTMPServer, cfg.FrameWidth, cfg.FrameHeight)
	e.recorder = NewRecorder(RecorderConfig{
		StreamID:       s.StreamID,
		Model:          s.ModelName,
		Location:       s.Location,
		StaticDir:      cfg.StaticDir,
		Width:          cfg.FrameWidth,
		Height:         cfg.FrameHeight,
		FrameInterval:  cfg.FrameInterval,
		RatioThreshold: cfg.UnsafeRatioThreshold,
		Cooldown:       cfg.EventCooldown,
		Duration:       cfg.RecordDuration,
	}, e.stats, e.deps.Events, e.deps.Notifier, e.deps.NewClip)

	e.processor = NewProcessor(s.StreamID, detector, strategy, e.zones, e.stats, e.deps.Bus, e.deps.Store)
	e.processor.AlertThrottle = cfg.IntrusionAlertThrottle
	e.processor.IntrusionEnabled = func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.stream.IntrusionDetection
	}

	e.pipeline = capture.New(capture.Config{
		StreamID:      s.StreamID,
		RTSPURL:       s.RTSPLink,
		Width:         cfg.FrameWidth,
		Height:        cfg.FrameHeight,
		ReconnectWait: cfg.ReconnectWait,
		MaxReconnect:  cfg.MaxReconnectWait,
		FrameTimeout:  cfg.FrameTimeout,
		QueueSize:     cfg.MaxFrameQueue,
	})

	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.restoreSafeArea(cfg.StaticDir)

	e.pipeline.Start()
	e.wg.Add(2)
	go e.processLoop()
	go e.healthLoop()

	if s.PTZ != nil {
		// PTZ readiness takes a network round trip; the engine is usable
		// before it completes.
		go e.initPTZ(cfg.PTZ)
	}

	metrics.ActiveStreams.Inc()
	log.Printf("[Engine] %s: started (model=%s)", s.StreamID, s.ModelName)
	return nil
}

// Stop tears everything down and joins the workers with a bounded wait.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	patrol := e.patrol
	ctrl := e.ptzCtrl
	e.mu.Unlock()

	if patrol != nil {
		patrol.Stop()
	}
	e.pipeline.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(workerJoinWait):
		log.Printf("[Engine] %s: workers did not exit within %s", e.stream.StreamID, workerJoinWait)
	}

	e.recorder.Abort()
	e.sink.Close()
	e.strategy.Reset()
	if ctrl != nil {
		ctrl.Close()
	}
	if e.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.deps.Store.Clear(ctx, e.stream.StreamID); err != nil {
			log.Printf("[Engine] %s: clear cached state: %v", e.stream.StreamID, err)
		}
		cancel()
	}

	metrics.ActiveStreams.Dec()
	log.Printf("[Engine] %s: stopped", e.stream.StreamID)
}

// Running reports whether the engine's workers are live.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) processLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case f, ok := <-e.pipeline.Frames():
			if !ok {
				return
			}
			e.handleFrame(f)
		}
	}
}

func (e *Engine) handleFrame(f *frame.Frame) {
	ctx := context.Background()

	// The recorder writes unannotated frames, so snapshot before the
	// processor draws on it.
	var raw *frame.Frame
	if e.savingEnabled() {
		raw = f.Clone()
	}

	res, err := e.processor.Process(ctx, f)
	if err != nil {
		log.Printf("[Engine] %s: frame dropped: %v", e.stream.StreamID, err)
		return
	}

	if raw != nil {
		e.recorder.Observe(raw, res.Unsafe, res.Reasons)
	}
	if err := e.sink.Write(f); err != nil {
		// Already logged by the sink; the next frame respawns it.
		_ = err
	}

	e.latestMu.Lock()
	e.latest = f
	e.latestMu.Unlock()
}

func (e *Engine) healthLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.pipeline.Healthy() {
				log.Printf("[Engine] %s: pipeline unhealthy, interrupting capture", e.stream.StreamID)
				e.pipeline.Interrupt()
			}
		}
	}
}

func (e *Engine) savingEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.SavingVideo
}

// initPTZ resolves the camera profile and wires controller, tracker and
// patrol. Runs asynchronously from Start.
func (e *Engine) initPTZ(ptzCfg config.PTZConfig) {
	s := e.Stream()
	cfg := e.deps.Cfg.Get()

	var cam ptz.Camera
	if e.deps.NewCamera != nil {
		cam = e.deps.NewCamera(*s.PTZ)
	} else {
		dev := ptz.NewOnvifDevice(*s.PTZ)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := dev.Initialize(ctx)
		cancel()
		if err != nil {
			log.Printf("[Engine] %s: PTZ init failed: %v", s.StreamID, err)
			return
		}
		cam = dev
	}

	ctrl := ptz.NewController(s.StreamID, cam)
	tracker := ptz.NewAutoTracker(s.StreamID, ctrl, ptzCfg, cfg.FrameWidth, cfg.FrameHeight)
	tracker.OnZoomChange = func(zoom float64) {
		e.deps.Bus.ZoomLevel(s.StreamID, zoom)
		if e.deps.Store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := e.deps.Store.SetZoomLevel(ctx, s.StreamID, zoom); err != nil {
				log.Printf("[Engine] %s: cache zoom: %v", s.StreamID, err)
			}
		}
	}
	if s.PatrolHomePosition != nil {
		tracker.SetHome(*s.PatrolHomePosition)
	}

	patrol := ptz.NewPatrol(s.StreamID, ptzCfg, ctrl, cam, tracker, e.deps.Bus)
	patrol.PersistHome = func(pos data.PTZPosition) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.deps.Streams.SaveHomePosition(ctx, s.StreamID, &pos); err != nil {
			log.Printf("[Engine] %s: persist home position: %v", s.StreamID, err)
		}
		e.mu.Lock()
		e.stream.PatrolHomePosition = &pos
		e.mu.Unlock()
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		ctrl.Close()
		return
	}
	e.cam = cam
	e.ptzCtrl = ctrl
	e.tracker = tracker
	e.patrol = patrol
	e.ptzReady = true
	autotrack := e.stream.PTZAutotrack
	patrolEnabled := e.stream.PatrolEnabled
	mode := e.stream.PatrolMode
	e.mu.Unlock()

	e.processor.SetPTZObserve(func(boxes []detect.BBox) {
		if e.patrolState() != ptz.StateOff {
			patrol.HandleDetections(boxes)
			return
		}
		if e.autotrackEnabled() {
			tracker.Observe(boxes)
		}
	})

	log.Printf("[Engine] %s: PTZ ready", s.StreamID)

	if autotrack && patrolEnabled && mode != data.PatrolOff {
		snapshot := e.Stream()
		if err := patrol.Start(mode, &snapshot); err != nil {
			log.Printf("[Engine] %s: patrol auto-start: %v", s.StreamID, err)
		}
	}
}

func (e *Engine) patrolState() ptz.State {
	e.mu.Lock()
	p := e.patrol
	e.mu.Unlock()
	if p == nil {
		return ptz.StateOff
	}
	return p.State()
}

func (e *Engine) autotrackEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.PTZAutotrack
}

// restoreSafeArea loads the persisted polygons and reference image into
// the zone tracker.
func (e *Engine) restoreSafeArea(staticDir string) {
	s := e.Stream()
	if s.SafeArea == nil || len(s.SafeArea.Coords) == 0 {
		return
	}

	polys := make([]zone.Polygon, 0, len(s.SafeArea.Coords))
	for _, coords := range s.SafeArea.Coords {
		polys = append(polys, zone.Polygon(coords))
	}

	var ref *frame.Frame
	if s.SafeArea.RefImage != "" {
		f, err := loadJPEGFrame(filepath.Join(staticDir, s.SafeArea.RefImage))
		if err != nil {
			log.Printf("[Engine] %s: load reference image: %v", s.StreamID, err)
		} else {
			ref = f
		}
	}
	e.zones.SetSafeArea(polys, ref, s.SafeArea.StaticMode)
	log.Printf("[Engine] %s: restored %d hazard polygons (static=%v)", s.StreamID, len(polys), s.SafeArea.StaticMode)
}

// ---- command surface ----

// ToggleIntrusionDetection flips the flag in memory and in storage.
func (e *Engine) ToggleIntrusionDetection(ctx context.Context) (bool, error) {
	e.mu.Lock()
	next := !e.stream.IntrusionDetection
	e.stream.IntrusionDetection = next
	id := e.stream.StreamID
	e.mu.Unlock()

	if err := e.deps.Streams.SetFlag(ctx, id, "intrusion_detection", next); err != nil {
		return next, fmt.Errorf("persist intrusion_detection: %w", err)
	}
	return next, nil
}

// ToggleSavingVideo flips clip recording on or off. The gating interval
// restarts on enable: frames seen while recording was off must not count
// toward the next clip decision.
func (e *Engine) ToggleSavingVideo(ctx context.Context) (bool, error) {
	e.mu.Lock()
	next := !e.stream.SavingVideo
	e.stream.SavingVideo = next
	id := e.stream.StreamID
	stats := e.stats
	e.mu.Unlock()

	if next && stats != nil {
		stats.ResetInterval()
	}
	if err := e.deps.Streams.SetFlag(ctx, id, "saving_video", next); err != nil {
		return next, fmt.Errorf("persist saving_video: %w", err)
	}
	return next, nil
}

// ChangeAutotrack toggles PTZ auto-tracking. Engaging captures the
// current device position as the default home; if persistent patrol is
// configured it also starts the patrol.
func (e *Engine) ChangeAutotrack(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if !e.ptzReady {
		e.mu.Unlock()
		return false, ErrNoPTZ
	}
	next := !e.stream.PTZAutotrack
	e.stream.PTZAutotrack = next
	id := e.stream.StreamID
	cam := e.cam
	tracker := e.tracker
	patrol := e.patrol
	patrolEnabled := e.stream.PatrolEnabled
	pattern := e.stream.PatrolPattern
	mode := e.stream.PatrolMode
	e.mu.Unlock()

	if err := e.deps.Streams.SetFlag(ctx, id, "ptz_autotrack", next); err != nil {
		return next, fmt.Errorf("persist ptz_autotrack: %w", err)
	}

	if next {
		if pos, err := cam.Status(ctx); err != nil {
			log.Printf("[Engine] %s: read PTZ position: %v", id, err)
		} else {
			tracker.SetHome(pos)
			if err := e.deps.Streams.SaveHomePosition(ctx, id, &pos); err != nil {
				log.Printf("[Engine] %s: persist home position: %v", id, err)
			}
		}
		if patrolEnabled && patrol.State() == ptz.StateOff {
			startMode := mode
			if startMode == data.PatrolOff || startMode == "" {
				startMode = data.PatrolGrid
				if len(pattern) >= 2 {
					startMode = data.PatrolPattern
				}
			}
			snapshot := e.Stream()
			if err := patrol.Start(startMode, &snapshot); err != nil {
				log.Printf("[Engine] %s: patrol start on autotrack: %v", id, err)
			}
		}
	}

	e.deps.Bus.AutotrackChanged(id, next)
	return next, nil
}

// TogglePatrol switches the patrol mode; "off" stops any running patrol.
func (e *Engine) TogglePatrol(ctx context.Context, mode data.PatrolMode) error {
	e.mu.Lock()
	if !e.ptzReady {
		e.mu.Unlock()
		return ErrNoPTZ
	}
	patrol := e.patrol
	id := e.stream.StreamID
	e.mu.Unlock()

	if mode == data.PatrolOff {
		patrol.Stop()
		e.mu.Lock()
		e.stream.PatrolEnabled = false
		e.stream.PatrolMode = data.PatrolOff
		e.mu.Unlock()
		return e.deps.Streams.SetPatrolMode(ctx, id, data.PatrolOff, false)
	}

	snapshot := e.Stream()
	if patrol.State() != ptz.StateOff {
		patrol.Stop()
	}
	if err := patrol.Start(mode, &snapshot); err != nil {
		return err
	}

	e.mu.Lock()
	e.stream.PatrolEnabled = true
	e.stream.PatrolMode = mode
	e.mu.Unlock()
	return e.deps.Streams.SetPatrolMode(ctx, id, mode, true)
}

// TogglePatrolFocus flips focus interleave during patrol.
func (e *Engine) TogglePatrolFocus(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if !e.ptzReady {
		e.mu.Unlock()
		return false, ErrNoPTZ
	}
	next := !e.stream.EnableFocusDuringPatrol
	e.stream.EnableFocusDuringPatrol = next
	id := e.stream.StreamID
	patrol := e.patrol
	e.mu.Unlock()

	patrol.SetFocusEnabled(next)
	if err := e.deps.Streams.SetFlag(ctx, id, "enable_focus_during_patrol", next); err != nil {
		return next, fmt.Errorf("persist enable_focus_during_patrol: %w", err)
	}
	return next, nil
}

// SavePatrolArea normalizes and persists the grid bounds.
func (e *Engine) SavePatrolArea(ctx context.Context, area data.PatrolArea) error {
	area.Normalize()
	if err := e.deps.Streams.SavePatrolArea(ctx, e.stream.StreamID, &area); err != nil {
		return err
	}
	e.mu.Lock()
	e.stream.PatrolArea = &area
	e.mu.Unlock()
	return nil
}

// PatrolArea returns the saved grid bounds.
func (e *Engine) PatrolArea() *data.PatrolArea {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.PatrolArea
}

// SavePatrolPattern persists the waypoint list.
func (e *Engine) SavePatrolPattern(ctx context.Context, pattern []data.Waypoint) error {
	if len(pattern) < 2 {
		return ptz.ErrNoWaypoints
	}
	if err := e.deps.Streams.SavePatrolPattern(ctx, e.stream.StreamID, pattern); err != nil {
		return err
	}
	e.mu.Lock()
	e.stream.PatrolPattern = pattern
	e.mu.Unlock()
	return nil
}

// PatrolPattern returns the saved waypoint list.
func (e *Engine) PatrolPattern() []data.Waypoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.PatrolPattern
}

// PreviewPatrolPattern runs the saved pattern once, non-blocking.
func (e *Engine) PreviewPatrolPattern() error {
	e.mu.Lock()
	if !e.ptzReady {
		e.mu.Unlock()
		return ErrNoPTZ
	}
	patrol := e.patrol
	pattern := e.stream.PatrolPattern
	e.mu.Unlock()

	if len(pattern) == 0 {
		return ptz.ErrNoWaypoints
	}
	return patrol.Preview(pattern)
}

// SetDangerZone replaces the hazard polygons. The reference image is
// saved under frame_refs and its filename persisted with the area.
func (e *Engine) SetDangerZone(ctx context.Context, coords [][][2]float64, refJPEG []byte, staticMode bool) error {
	cfg := e.deps.Cfg.Get()

	polys := make([]zone.Polygon, 0, len(coords))
	for _, c := range coords {
		if len(c) < 3 {
			return fmt.Errorf("polygon needs at least 3 points, got %d", len(c))
		}
		polys = append(polys, zone.Polygon(c))
	}

	var ref *frame.Frame
	refName := ""
	if len(refJPEG) > 0 {
		img, err := jpeg.Decode(bytes.NewReader(refJPEG))
		if err != nil {
			return fmt.Errorf("decode reference image: %w", err)
		}
		ref = frameFromImage(img, cfg.FrameWidth, cfg.FrameHeight)

		refName = filepath.Join("frame_refs", fmt.Sprintf("frame_%d_%s.jpg", time.Now().Unix(), e.stream.StreamID))
		full := filepath.Join(cfg.StaticDir, refName)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create frame_refs dir: %w", err)
		}
		if err := os.WriteFile(full, refJPEG, 0o644); err != nil {
			return fmt.Errorf("save reference image: %w", err)
		}
	}

	area := &data.SafeArea{
		Coords:     coords,
		StaticMode: staticMode,
		RefImage:   refName,
		UpdatedAt:  time.Now(),
	}
	if err := e.deps.Streams.SaveSafeArea(ctx, e.stream.StreamID, area); err != nil {
		return err
	}

	e.zones.SetSafeArea(polys, ref, staticMode)
	e.mu.Lock()
	e.stream.SafeArea = area
	e.mu.Unlock()
	return nil
}

// SafeArea returns the saved hazard-zone configuration.
func (e *Engine) SafeArea() *data.SafeArea {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.SafeArea
}

// SetCameraMode switches between static and dynamic zone projection.
func (e *Engine) SetCameraMode(ctx context.Context, static bool) error {
	e.zones.SetStaticMode(static)
	e.mu.Lock()
	if e.stream.SafeArea != nil {
		e.stream.SafeArea.StaticMode = static
	}
	area := e.stream.SafeArea
	id := e.stream.StreamID
	e.mu.Unlock()

	if area != nil {
		return e.deps.Streams.SaveSafeArea(ctx, id, area)
	}
	return nil
}

// CameraMode reports whether zone projection is static.
func (e *Engine) CameraMode() bool {
	return e.zones.StaticMode()
}

// CurrentFrame writes the newest annotated frame as a JPEG under the
// static dir and returns its relative filename.
func (e *Engine) CurrentFrame() (string, error) {
	e.latestMu.Lock()
	f := e.latest
	e.latestMu.Unlock()
	if f == nil {
		return "", ErrNoFrameYet
	}

	jpegData, err := f.EncodeJPEG(85)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}

	cfg := e.deps.Cfg.Get()
	name := filepath.Join("frames", fmt.Sprintf("current_%s_%d.jpg", e.stream.StreamID, time.Now().UnixNano()))
	full := filepath.Join(cfg.StaticDir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, jpegData, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// CurrentPTZ reads the live position from the device.
func (e *Engine) CurrentPTZ(ctx context.Context) (data.PTZPosition, error) {
	e.mu.Lock()
	cam := e.cam
	ready := e.ptzReady
	e.mu.Unlock()
	if !ready {
		return data.PTZPosition{}, ErrNoPTZ
	}
	return cam.Status(ctx)
}

// Health is the engine's externally visible health snapshot.
type Health struct {
	Running        bool    `json:"running"`
	PipelineOK     bool    `json:"pipeline_ok"`
	PTZReady       bool    `json:"ptz_ready"`
	PatrolState    string  `json:"patrol_state"`
	FPS            float64 `json:"fps"`
	TotalFrames    uint64  `json:"total_frames"`
	BitrateBPS     float64 `json:"bitrate_bps"`
	FrameLatencyMs float64 `json:"frame_latency_ms"`
}

// HealthSnapshot reports liveness and throughput for status reads.
func (e *Engine) HealthSnapshot() Health {
	e.mu.Lock()
	running := e.running
	ready := e.ptzReady
	e.mu.Unlock()

	h := Health{Running: running, PTZReady: ready, PatrolState: e.patrolState().String()}
	if running {
		h.PipelineOK = e.pipeline.Healthy()
		h.FPS = e.stats.FPS()
		h.TotalFrames = e.stats.TotalFrames()
		h.BitrateBPS = e.pipeline.BitrateBPS()
		h.FrameLatencyMs = e.pipeline.FrameLatencyMs()
	}
	return h
}

// loadJPEGFrame reads a reference JPEG from disk into a frame buffer.
func loadJPEGFrame(path string) (*frame.Frame, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	bounds := img.Bounds()
	return frameFromImage(img, bounds.Dx(), bounds.Dy()), nil
}

func frameFromImage(img image.Image, w, h int) *frame.Frame {
	f := frame.New(w, h)
	draw.Draw(f, f.Bounds(), img, img.Bounds().Min, draw.Src)
	return f
}
