package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so tests see pure defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"REDIS_ADDR", "NATS_URL", "PORT", "JWT_SIGNING_KEY", "API_USERNAME", "API_PASSWORD",
		"RTMP_SERVER", "STATIC_DIR", "FRAME_WIDTH", "FRAME_HEIGHT",
		"RECONNECT_WAIT_SECS", "MODEL_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "admin", cfg.APIUser)
	assert.Empty(t, cfg.APIPassword)

	assert.Equal(t, 1280, cfg.FrameWidth)
	assert.Equal(t, 720, cfg.FrameHeight)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 60*time.Second, cfg.MaxReconnectWait)
	assert.Equal(t, 30, cfg.FrameInterval)
	assert.Equal(t, 0.7, cfg.UnsafeRatioThreshold)
	assert.Equal(t, 30*time.Second, cfg.EventCooldown)
	assert.Equal(t, 0.45, cfg.ConfidenceThreshold)
	assert.Equal(t, time.Duration(0), cfg.IntrusionAlertThrottle)

	assert.Equal(t, 500*time.Millisecond, cfg.PTZ.MoveThrottle)
	assert.Equal(t, 10*time.Second, cfg.PTZ.PatrolDwell)
	assert.Equal(t, 1, cfg.PTZ.RestEveryNCycles)
	assert.Equal(t, 4, cfg.PTZ.GridCols)
	assert.Equal(t, 3, cfg.PTZ.GridRows)
}

func TestLoadDatabaseURLPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://svc:pw@db.internal:5432/safety?sslmode=require")
	t.Setenv("DB_HOST", "ignored.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://svc:pw@db.internal:5432/safety?sslmode=require", cfg.DatabaseURL)
}

func TestLoadDatabaseURLFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_USER", "safety")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "safety")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://safety:pw@db.local:5432/safety?sslmode=disable", cfg.DatabaseURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRAME_WIDTH", "640")
	t.Setenv("FRAME_HEIGHT", "480")
	t.Setenv("RECONNECT_WAIT_SECS", "7")
	t.Setenv("API_PASSWORD", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.FrameWidth)
	assert.Equal(t, 480, cfg.FrameHeight)
	assert.Equal(t, 7*time.Second, cfg.ReconnectWait)
	assert.Equal(t, "hunter2", cfg.APIPassword)
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
rtmp_server: "rtmp://media.internal:1935/live"
frame_width: 1920
frame_height: 1080
frame_timeout: 8s
unsafe_ratio_threshold: 0.5
ptz:
  move_throttle: 250ms
  patrol_dwell: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rtmp://media.internal:1935/live", cfg.RTMPServer)
	assert.Equal(t, 1920, cfg.FrameWidth)
	assert.Equal(t, 1080, cfg.FrameHeight)
	assert.Equal(t, 8*time.Second, cfg.FrameTimeout)
	assert.Equal(t, 0.5, cfg.UnsafeRatioThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.PTZ.MoveThrottle)
	assert.Equal(t, 20*time.Second, cfg.PTZ.PatrolDwell)

	// Values the overlay never mentions keep their defaults.
	assert.Equal(t, 30, cfg.FrameInterval)
	assert.Equal(t, 0.8, cfg.PTZ.PanVelocity)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.FrameWidth)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frame_width: [not an int"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}
	clearEnv(t)

	cfg := base()
	cfg.FrameWidth = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.UnsafeRatioThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MaxFrameQueue = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PTZ.MinZoom = 1.0
	cfg.PTZ.MaxZoom = 0.5
	assert.Error(t, cfg.Validate())

	assert.NoError(t, base().Validate())
}

func TestStoreSwap(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	store := NewStore(cfg)
	assert.Same(t, cfg, store.Get())

	next := *cfg
	next.FrameInterval = 60
	store.set(&next)
	assert.Equal(t, 60, store.Get().FrameInterval)
}
