package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every value that parameterizes the processing engine.
// Connection strings come from env; engine tunables come from env with
// defaults and may be overridden by config/default.yaml.
type Config struct {
	// Infrastructure
	DatabaseURL string
	RedisAddr   string
	NATSURL     string
	HTTPPort    string
	JWTKey      string
	APIUser     string
	APIPassword string

	// Media endpoints
	RTMPServer string `yaml:"rtmp_server"`
	StaticDir  string `yaml:"static_dir"`

	// Frame geometry
	FrameWidth  int `yaml:"frame_width"`
	FrameHeight int `yaml:"frame_height"`

	// Capture
	ReconnectWait    time.Duration `yaml:"reconnect_wait"`
	MaxReconnectWait time.Duration `yaml:"max_reconnect_wait"`
	FrameTimeout     time.Duration `yaml:"frame_timeout"`
	MaxFrameQueue    int           `yaml:"max_frame_queue"`
	FPSQueueSize     int           `yaml:"fps_queue_size"`

	// Recording
	RecordDuration       time.Duration `yaml:"record_duration"`
	FrameInterval        int           `yaml:"frame_interval"`
	UnsafeRatioThreshold float64       `yaml:"unsafe_ratio_threshold"`
	EventCooldown        time.Duration `yaml:"event_cooldown"`

	// Detection
	ModelDir            string  `yaml:"model_dir"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Minimum spacing between intrusion alerts per stream. Zero publishes
	// on every intruding frame.
	IntrusionAlertThrottle time.Duration `yaml:"intrusion_alert_throttle"`

	// PTZ / patrol
	PTZ PTZConfig `yaml:"ptz"`
}

// PTZConfig carries the auto-tracker and patrol defaults.
type PTZConfig struct {
	MoveThrottle           time.Duration `yaml:"move_throttle"`
	NoObjectTimeout        time.Duration `yaml:"no_object_timeout"`
	TrackingCooldown       time.Duration `yaml:"tracking_cooldown"`
	ObjectFocusDuration    time.Duration `yaml:"object_focus_duration"`
	MinObjectFocusDuration time.Duration `yaml:"min_object_focus_duration"`
	MinWaypointDwell       time.Duration `yaml:"min_waypoint_dwell_before_focus"`
	PatrolDwell            time.Duration `yaml:"patrol_dwell"`
	HomeRestDuration       time.Duration `yaml:"home_rest_duration"`
	RestEveryNCycles       int           `yaml:"rest_every_n_cycles"`
	GridCols               int           `yaml:"grid_cols"`
	GridRows               int           `yaml:"grid_rows"`
	MinZoom                float64       `yaml:"min_zoom"`
	MaxZoom                float64       `yaml:"max_zoom"`
	PanVelocity            float64       `yaml:"pan_velocity"`
	TiltVelocity           float64       `yaml:"tilt_velocity"`
	ZoomVelocity           float64       `yaml:"zoom_velocity"`
}

// Load builds the config from env, then overlays the yaml file if present.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DatabaseURL: buildDatabaseURL(),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		HTTPPort:    getEnv("PORT", "8080"),
		JWTKey:      getEnv("JWT_SIGNING_KEY", "dev-secret-do-not-use-in-prod"),
		APIUser:     getEnv("API_USERNAME", "admin"),
		APIPassword: os.Getenv("API_PASSWORD"),

		RTMPServer: getEnv("RTMP_SERVER", "rtmp://localhost:1935/live"),
		StaticDir:  getEnv("STATIC_DIR", "./static"),

		FrameWidth:  getEnvInt("FRAME_WIDTH", 1280),
		FrameHeight: getEnvInt("FRAME_HEIGHT", 720),

		ReconnectWait:    getEnvDuration("RECONNECT_WAIT_SECS", 2*time.Second),
		MaxReconnectWait: 60 * time.Second,
		FrameTimeout:     5 * time.Second,
		MaxFrameQueue:    10,
		FPSQueueSize:     30,

		RecordDuration:       10 * time.Second,
		FrameInterval:        30,
		UnsafeRatioThreshold: 0.7,
		EventCooldown:        30 * time.Second,

		ModelDir:            getEnv("MODEL_DIR", "./models"),
		ConfidenceThreshold: 0.45,

		PTZ: PTZConfig{
			MoveThrottle:           500 * time.Millisecond,
			NoObjectTimeout:        5 * time.Second,
			TrackingCooldown:       5 * time.Second,
			ObjectFocusDuration:    10 * time.Second,
			MinObjectFocusDuration: 5 * time.Second,
			MinWaypointDwell:       5 * time.Second,
			PatrolDwell:            10 * time.Second,
			HomeRestDuration:       30 * time.Second,
			RestEveryNCycles:       1,
			GridCols:               4,
			GridRows:               3,
			MinZoom:                0.0,
			MaxZoom:                1.0,
			PanVelocity:            0.8,
			TiltVelocity:           0.8,
			ZoomVelocity:           0.5,
		},
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", c.FrameWidth, c.FrameHeight)
	}
	if c.MaxFrameQueue <= 0 {
		return fmt.Errorf("max_frame_queue must be positive")
	}
	if c.UnsafeRatioThreshold <= 0 || c.UnsafeRatioThreshold > 1 {
		return fmt.Errorf("unsafe_ratio_threshold out of range: %f", c.UnsafeRatioThreshold)
	}
	if c.PTZ.MinZoom >= c.PTZ.MaxZoom {
		return fmt.Errorf("ptz zoom bounds inverted: [%f, %f]", c.PTZ.MinZoom, c.PTZ.MaxZoom)
	}
	return nil
}

func buildDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	pass := os.Getenv("DB_PASSWORD")
	name := os.Getenv("DB_NAME")
	ssl := getEnv("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration reads whole seconds, matching the *_SECS env convention.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// Store wraps a Config behind a lock so the fsnotify watcher can swap
// tunables at runtime while engines read them per frame.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current config snapshot. Callers must not mutate it.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
