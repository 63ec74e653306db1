package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr
}

func TestLatestFrameRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.LatestFrame(ctx, "cam_001")
	require.NoError(t, err)
	assert.Nil(t, got, "no frame cached yet")

	require.NoError(t, s.SetLatestFrame(ctx, "cam_001", []byte{0xff, 0xd8, 0xff}))
	got, err = s.LatestFrame(ctx, "cam_001")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, got)
}

func TestFrameExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLatestFrame(ctx, "cam_001", []byte("jpg")))
	mr.FastForward(frameTTL + time.Second)

	got, err := s.LatestFrame(ctx, "cam_001")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDetectionsRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	snap := DetectionSnapshot{
		StreamID:  "cam_001",
		Status:    "Unsafe",
		Reasons:   []string{"missing_helmet"},
		Persons:   2,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SetDetections(ctx, snap))

	got, err := s.Detections(ctx, "cam_001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap, *got)
}

func TestIntrusionAlertGate(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	window := 2 * time.Second

	ok, err := s.AllowIntrusionAlert(ctx, "cam_001", window)
	require.NoError(t, err)
	assert.True(t, ok, "first alert passes")

	ok, err = s.AllowIntrusionAlert(ctx, "cam_001", window)
	require.NoError(t, err)
	assert.False(t, ok, "second alert inside the window is gated")

	// Other streams are gated independently.
	ok, err = s.AllowIntrusionAlert(ctx, "cam_002", window)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(window + time.Second)
	ok, err = s.AllowIntrusionAlert(ctx, "cam_001", window)
	require.NoError(t, err)
	assert.True(t, ok, "gate reopens after the window")
}

func TestZoomLevelDefaultsToZero(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	z, err := s.ZoomLevel(ctx, "cam_001")
	require.NoError(t, err)
	assert.Zero(t, z)

	require.NoError(t, s.SetZoomLevel(ctx, "cam_001", 0.4))
	z, err = s.ZoomLevel(ctx, "cam_001")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, z, 1e-9)
}

func TestClearRemovesAllKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLatestFrame(ctx, "cam_001", []byte("jpg")))
	require.NoError(t, s.SetZoomLevel(ctx, "cam_001", 0.2))
	require.NoError(t, s.Clear(ctx, "cam_001"))

	got, err := s.LatestFrame(ctx, "cam_001")
	require.NoError(t, err)
	assert.Nil(t, got)
	z, err := s.ZoomLevel(ctx, "cam_001")
	require.NoError(t, err)
	assert.Zero(t, z)
}
