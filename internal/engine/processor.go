package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/metrics"
	"github.com/technosupport/ts-safety/internal/overlay"
	"github.com/technosupport/ts-safety/internal/rules"
	"github.com/technosupport/ts-safety/internal/state"
	"github.com/technosupport/ts-safety/internal/zone"
)

// AlertPublisher publishes transient per-stream alerts. The NATS event
// publisher implements it.
type AlertPublisher interface {
	Intrusion(streamID string)
}

// Result is one frame's processing outcome.
type Result struct {
	Unsafe  bool
	Reasons []string
	Persons []detect.BBox
}

// Processor runs the per-frame pipeline: detection, model rules, the
// intrusion check, PTZ hand-off, and the status panel. The annotated
// frame is the input frame mutated in place.
type Processor struct {
	streamID string
	detector detect.Detector
	strategy rules.Strategy
	zones    *zone.Tracker
	stats    *Stats
	alerts   AlertPublisher
	store    *state.Store

	// IntrusionEnabled is read per frame; the engine flips it when the
	// toggle command lands.
	IntrusionEnabled func() bool

	// AlertThrottle spaces intrusion alerts per stream. Zero publishes on
	// every intruding frame.
	AlertThrottle time.Duration

	// ptzObserve is installed after the worker is already processing
	// frames, so it sits behind its own lock.
	ptzMu      sync.Mutex
	ptzObserve func(boxes []detect.BBox)
}

func NewProcessor(streamID string, detector detect.Detector, strategy rules.Strategy, zones *zone.Tracker, stats *Stats, alerts AlertPublisher, store *state.Store) *Processor {
	return &Processor{
		streamID: streamID,
		detector: detector,
		strategy: strategy,
		zones:    zones,
		stats:    stats,
		alerts:   alerts,
		store:    store,
	}
}

// Process runs one frame through the pipeline. A detector error drops the
// frame; every other failure degrades the affected feature only.
func (p *Processor) Process(ctx context.Context, f *frame.Frame) (Result, error) {
	dets, err := p.detector.Detect(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("detect: %w", err)
	}

	reasons := p.strategy.Evaluate(f, dets)
	persons := rules.PersonBoxes(dets)

	if p.intrusionActive() && p.zones.HasZones() {
		reasons = p.checkIntrusion(ctx, f, persons, reasons)
	}

	p.ptzMu.Lock()
	observe := p.ptzObserve
	p.ptzMu.Unlock()
	if observe != nil {
		observe(persons)
	}

	unsafe := len(reasons) > 0
	overlay.StatusPanel(f, !unsafe, reasons, len(persons), p.stats.FPS())

	p.stats.RecordFrame(unsafe)
	metrics.FramesProcessed.WithLabelValues(p.streamID).Inc()

	p.cacheSnapshot(ctx, f, unsafe, reasons, len(persons))

	return Result{Unsafe: unsafe, Reasons: reasons, Persons: persons}, nil
}

// SetPTZObserve installs the PTZ hand-off. The receiver must not block;
// the PTZ side queues internally. Safe to call while frames are flowing.
func (p *Processor) SetPTZObserve(fn func(boxes []detect.BBox)) {
	p.ptzMu.Lock()
	p.ptzObserve = fn
	p.ptzMu.Unlock()
}

func (p *Processor) intrusionActive() bool {
	return p.IntrusionEnabled != nil && p.IntrusionEnabled()
}

// checkIntrusion projects the hazard polygons onto the frame, draws them,
// and tests every person's bottom-center point against them.
func (p *Processor) checkIntrusion(ctx context.Context, f *frame.Frame, persons []detect.BBox, reasons []string) []string {
	polys := p.zones.TransformedSafeAreas(f)
	overlay.Zones(f, polys)

	hit := false
	for _, b := range persons {
		if zone.BottomCenterInAny(b.X1, b.Y1, b.X2, b.Y2, polys) {
			hit = true
			break
		}
	}
	if !hit {
		return reasons
	}

	reasons = append(reasons, rules.ReasonIntrusion)
	if p.alerts == nil {
		return reasons
	}
	// The alert goes out on every intruding frame unless a throttle window
	// is configured. A gate failure degrades the throttle, not the alert.
	if p.AlertThrottle > 0 && p.store != nil {
		ok, err := p.store.AllowIntrusionAlert(ctx, p.streamID, p.AlertThrottle)
		if err != nil {
			log.Printf("[Processor] %s: intrusion alert gate: %v", p.streamID, err)
		} else if !ok {
			return reasons
		}
	}
	p.alerts.Intrusion(p.streamID)
	return reasons
}

// cacheSnapshot pushes the annotated JPEG and detection summary to Redis
// for external readers. Failures are logged and ignored.
func (p *Processor) cacheSnapshot(ctx context.Context, f *frame.Frame, unsafe bool, reasons []string, persons int) {
	if p.store == nil {
		return
	}
	status := "Safe"
	if unsafe {
		status = "Unsafe"
	}
	if err := p.store.SetDetections(ctx, state.DetectionSnapshot{
		StreamID:  p.streamID,
		Status:    status,
		Reasons:   reasons,
		Persons:   persons,
		Timestamp: time.Now(),
	}); err != nil {
		log.Printf("[Processor] %s: cache detections: %v", p.streamID, err)
		return
	}
	if jpeg, err := f.EncodeJPEG(80); err == nil {
		if err := p.store.SetLatestFrame(ctx, p.streamID, jpeg); err != nil {
			log.Printf("[Processor] %s: cache frame: %v", p.streamID, err)
		}
	}
}
