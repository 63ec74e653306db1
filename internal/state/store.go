// Package state caches transient per-stream data in Redis: the newest
// annotated frame, the latest detection set, and intrusion alert rate
// limiting. Everything here is TTL'd; Redis going away degrades features
// but never stops a stream.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	frameTTL     = 10 * time.Second
	detectionTTL = 10 * time.Second
	zoomTTL      = 24 * time.Hour
)

// DetectionSnapshot is the latest per-stream detection summary exposed to
// external readers.
type DetectionSnapshot struct {
	StreamID  string    `json:"stream_id"`
	Status    string    `json:"status"`
	Reasons   []string  `json:"reasons,omitempty"`
	Persons   int       `json:"persons"`
	Timestamp time.Time `json:"timestamp"`
}

// Store wraps the Redis client with the keys this service owns.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func frameKey(streamID string) string     { return "stream:" + streamID + ":frame" }
func detectionKey(streamID string) string { return "stream:" + streamID + ":detections" }
func zoomKey(streamID string) string      { return "stream:" + streamID + ":zoom" }
func alertKey(streamID string) string     { return "stream:" + streamID + ":intrusion_alert" }

// SetLatestFrame stores the newest annotated JPEG for a stream.
func (s *Store) SetLatestFrame(ctx context.Context, streamID string, jpeg []byte) error {
	if err := s.rdb.Set(ctx, frameKey(streamID), jpeg, frameTTL).Err(); err != nil {
		return fmt.Errorf("state: set latest frame for %s: %w", streamID, err)
	}
	return nil
}

// LatestFrame returns the newest JPEG, or nil when none is cached.
func (s *Store) LatestFrame(ctx context.Context, streamID string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, frameKey(streamID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: get latest frame for %s: %w", streamID, err)
	}
	return b, nil
}

// SetDetections stores the latest detection snapshot.
func (s *Store) SetDetections(ctx context.Context, snap DetectionSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("state: marshal detections: %w", err)
	}
	if err := s.rdb.Set(ctx, detectionKey(snap.StreamID), payload, detectionTTL).Err(); err != nil {
		return fmt.Errorf("state: set detections for %s: %w", snap.StreamID, err)
	}
	return nil
}

// Detections returns the latest snapshot, or nil when none is cached.
func (s *Store) Detections(ctx context.Context, streamID string) (*DetectionSnapshot, error) {
	b, err := s.rdb.Get(ctx, detectionKey(streamID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: get detections for %s: %w", streamID, err)
	}
	var snap DetectionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("state: decode detections for %s: %w", streamID, err)
	}
	return &snap, nil
}

// SetZoomLevel records the stream's current zoom so that a joining viewer
// can be told the level without a device round trip.
func (s *Store) SetZoomLevel(ctx context.Context, streamID string, zoom float64) error {
	if err := s.rdb.Set(ctx, zoomKey(streamID), zoom, zoomTTL).Err(); err != nil {
		return fmt.Errorf("state: set zoom for %s: %w", streamID, err)
	}
	return nil
}

// ZoomLevel returns the cached zoom, defaulting to 0 when unset.
func (s *Store) ZoomLevel(ctx context.Context, streamID string) (float64, error) {
	z, err := s.rdb.Get(ctx, zoomKey(streamID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("state: get zoom for %s: %w", streamID, err)
	}
	return z, nil
}

// AllowIntrusionAlert reports whether an intrusion alert may be published
// now, given a minimum spacing per stream. Alerts are per frame by
// default; operators who want fewer opt into a window via config.
func (s *Store) AllowIntrusionAlert(ctx context.Context, streamID string, window time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, alertKey(streamID), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("state: intrusion alert gate for %s: %w", streamID, err)
	}
	return ok, nil
}

// Clear drops all cached state for a stream. Called on stream stop.
func (s *Store) Clear(ctx context.Context, streamID string) error {
	keys := []string{frameKey(streamID), detectionKey(streamID), zoomKey(streamID), alertKey(streamID)}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("state: clear %s: %w", streamID, err)
	}
	return nil
}
