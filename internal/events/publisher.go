// Package events publishes the outbound event surface over NATS. The web
// layer bridges these subjects to WebSocket rooms; the engine only ever
// fires and forgets.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Subjects carried on the default namespace.
const (
	SubjectPTZAutotrack = "ptz-autotrack"
	SubjectZoomLevel    = "zoom-level"
	SubjectSystemStatus = "system_status"
)

const (
	publishRetries    = 3
	publishRetryDelay = 200 * time.Millisecond
)

// Conn is the slice of the NATS client the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher serializes payloads and publishes them with bounded retry.
// A publish that still fails after the retries is logged and dropped;
// event delivery is best effort.
type Publisher struct {
	nc Conn
}

func NewPublisher(nc Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Alert publishes a transient alert for a stream, e.g. {"type":"intrusion"}.
func (p *Publisher) Alert(streamID string, payload map[string]any) {
	p.publish("alert-"+streamID, payload)
}

// Intrusion publishes the standing intrusion alert for a stream.
func (p *Publisher) Intrusion(streamID string) {
	p.Alert(streamID, map[string]any{"type": "intrusion"})
}

// AutotrackChanged announces a ptz_autotrack toggle.
func (p *Publisher) AutotrackChanged(streamID string, enabled bool) {
	p.publish(SubjectPTZAutotrack, map[string]any{
		"stream_id":     streamID,
		"ptz_autotrack": enabled,
	})
}

// ZoomLevel announces the current zoom of a PTZ stream.
func (p *Publisher) ZoomLevel(streamID string, zoom float64) {
	p.publish(SubjectZoomLevel, map[string]any{
		"stream_id": streamID,
		"zoom":      zoom,
	})
}

// SystemStatus publishes a periodic resource snapshot.
func (p *Publisher) SystemStatus(cpu, gpu float64) {
	p.publish(SubjectSystemStatus, map[string]any{"cpu": cpu, "gpu": gpu})
}

// PatrolPreviewStart announces the beginning of a pattern preview.
func (p *Publisher) PatrolPreviewStart(streamID string, waypoints int) {
	p.publish("patrol-preview-start-"+streamID, map[string]any{"waypoints": waypoints})
}

// PatrolPreviewWaypoint announces arrival at a preview waypoint.
func (p *Publisher) PatrolPreviewWaypoint(streamID string, index int, x, y, z float64) {
	p.publish("patrol-preview-waypoint-"+streamID, map[string]any{
		"index": index, "x": x, "y": y, "z": z,
	})
}

// PatrolPreviewComplete announces the end of a preview run.
func (p *Publisher) PatrolPreviewComplete(streamID string) {
	p.publish("patrol-preview-complete-"+streamID, map[string]any{})
}

// PatrolPreviewError announces a preview failure.
func (p *Publisher) PatrolPreviewError(streamID string, reason string) {
	p.publish("patrol-preview-error-"+streamID, map[string]any{"error": reason})
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Events] marshal %s: %v", subject, err)
		return
	}
	if err := p.publishRaw(subject, data); err != nil {
		log.Printf("[Events] publish %s failed after %d attempts: %v", subject, publishRetries, err)
	}
}

func (p *Publisher) publishRaw(subject string, data []byte) error {
	var lastErr error
	for attempt := 1; attempt <= publishRetries; attempt++ {
		if err := p.nc.Publish(subject, data); err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt, err)
			time.Sleep(publishRetryDelay)
			continue
		}
		return nil
	}
	return lastErr
}
