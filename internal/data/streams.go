package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ModelName enumerates the detection models a stream can run.
type ModelName string

const (
	ModelPPE               ModelName = "PPE"
	ModelLadder            ModelName = "Ladder"
	ModelScaffolding       ModelName = "Scaffolding"
	ModelMobileScaffolding ModelName = "MobileScaffolding"
	ModelCuttingWelding    ModelName = "CuttingWelding"
	ModelFire              ModelName = "Fire"
	ModelHeavyEquipment    ModelName = "HeavyEquipment"
)

// ValidModels is used for request validation; unknown model names are rejected.
var ValidModels = map[ModelName]bool{
	ModelPPE: true, ModelLadder: true, ModelScaffolding: true,
	ModelMobileScaffolding: true, ModelCuttingWelding: true,
	ModelFire: true, ModelHeavyEquipment: true,
}

// PatrolMode selects how a PTZ stream patrols.
type PatrolMode string

const (
	PatrolOff     PatrolMode = "off"
	PatrolGrid    PatrolMode = "grid"
	PatrolPattern PatrolMode = "pattern"
)

// SafeArea holds the user-drawn hazard-zone polygons in reference-frame
// coordinates plus the reference image used for dynamic projection.
type SafeArea struct {
	Coords     [][][2]float64 `json:"coords"` // polygon set
	StaticMode bool           `json:"static_mode"`
	RefImage   string         `json:"ref_image,omitempty"` // path under STATIC_DIR/frame_refs
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// PatrolArea bounds the grid patrol. xMin<xMax and yMin<yMax is an
// invariant; Normalize enforces it on write.
type PatrolArea struct {
	XMin      float64 `json:"xMin"`
	XMax      float64 `json:"xMax"`
	YMin      float64 `json:"yMin"`
	YMax      float64 `json:"yMax"`
	ZoomLevel float64 `json:"zoom_level"`
}

// Normalize swaps inverted bounds in place.
func (a *PatrolArea) Normalize() {
	if a.XMin > a.XMax {
		a.XMin, a.XMax = a.XMax, a.XMin
	}
	if a.YMin > a.YMax {
		a.YMin, a.YMax = a.YMax, a.YMin
	}
}

// Waypoint is one stop of a custom patrol pattern.
type Waypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PTZPosition is an absolute pan/tilt/zoom triple in ONVIF normalized space.
type PTZPosition struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
	Zoom float64 `json:"zoom"`
}

// PTZCredentials is the per-camera ONVIF connection block.
type PTZCredentials struct {
	CamIP       string `json:"cam_ip"`
	Port        int    `json:"ptz_port"`
	Username    string `json:"ptz_username"`
	Password    string `json:"ptz_password"`
	ProfileName string `json:"profile_name,omitempty"`
}

// Stream is the persisted per-camera configuration.
type Stream struct {
	StreamID    string    `json:"stream_id"`
	RTSPLink    string    `json:"rtsp_link"`
	ModelName   ModelName `json:"model_name"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`

	PTZ                *PTZCredentials `json:"ptz,omitempty"`
	PTZAutotrack       bool            `json:"ptz_autotrack"`
	IntrusionDetection bool            `json:"intrusion_detection"`
	SavingVideo        bool            `json:"saving_video"`

	SafeArea                *SafeArea    `json:"safe_area,omitempty"`
	PatrolArea              *PatrolArea  `json:"patrol_area,omitempty"`
	PatrolPattern           []Waypoint   `json:"patrol_pattern,omitempty"`
	PatrolHomePosition      *PTZPosition `json:"patrol_home_position,omitempty"`
	PatrolEnabled           bool         `json:"patrol_enabled"`
	PatrolMode              PatrolMode   `json:"patrol_mode"`
	EnableFocusDuringPatrol bool         `json:"enable_focus_during_patrol"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the cross-field invariants from the configuration model.
func (s *Stream) Validate() error {
	if s.StreamID == "" {
		return fmt.Errorf("stream_id required")
	}
	if s.RTSPLink == "" {
		return fmt.Errorf("rtsp_link required")
	}
	if !ValidModels[s.ModelName] {
		return fmt.Errorf("unknown model_name: %s", s.ModelName)
	}
	switch s.PatrolMode {
	case "", PatrolOff:
	case PatrolPattern:
		if len(s.PatrolPattern) < 2 {
			return fmt.Errorf("patrol_mode=pattern requires at least 2 waypoints")
		}
	case PatrolGrid:
		if s.PatrolArea == nil {
			return fmt.Errorf("patrol_mode=grid requires a patrol_area")
		}
	default:
		return fmt.Errorf("unknown patrol_mode: %s", s.PatrolMode)
	}
	if s.PatrolArea != nil {
		s.PatrolArea.Normalize()
	}
	return nil
}

// StreamRepository is the persistence surface the engine and API consume.
type StreamRepository interface {
	Create(ctx context.Context, s *Stream) error
	GetByID(ctx context.Context, streamID string) (*Stream, error)
	List(ctx context.Context) ([]*Stream, error)
	ListActive(ctx context.Context) ([]*Stream, error)
	Update(ctx context.Context, s *Stream) error
	Delete(ctx context.Context, streamID string) error
	SetFlag(ctx context.Context, streamID, column string, value bool) error
	SaveSafeArea(ctx context.Context, streamID string, area *SafeArea) error
	SavePatrolArea(ctx context.Context, streamID string, area *PatrolArea) error
	SavePatrolPattern(ctx context.Context, streamID string, pattern []Waypoint) error
	SaveHomePosition(ctx context.Context, streamID string, pos *PTZPosition) error
	SetPatrolMode(ctx context.Context, streamID string, mode PatrolMode, enabled bool) error
}

// StreamModel implements StreamRepository on Postgres. The optional blocks
// (safe area, patrol config) live in JSONB columns: they are read and
// written whole, never queried by field.
type StreamModel struct {
	DB DBTX
}

const streamColumns = `
	stream_id, rtsp_link, model_name, location, description, is_active,
	ptz, ptz_autotrack, intrusion_detection, saving_video,
	safe_area, patrol_area, patrol_pattern, patrol_home_position,
	patrol_enabled, patrol_mode, enable_focus_during_patrol,
	created_at, updated_at`

func (m StreamModel) Create(ctx context.Context, s *Stream) error {
	if err := s.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO streams (
			stream_id, rtsp_link, model_name, location, description, is_active,
			ptz, ptz_autotrack, intrusion_detection, saving_video,
			safe_area, patrol_area, patrol_pattern, patrol_home_position,
			patrol_enabled, patrol_mode, enable_focus_during_patrol
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`

	mode := s.PatrolMode
	if mode == "" {
		mode = PatrolOff
	}
	return m.DB.QueryRowContext(ctx, query,
		s.StreamID, s.RTSPLink, s.ModelName, s.Location, s.Description, s.IsActive,
		toJSON(s.PTZ), s.PTZAutotrack, s.IntrusionDetection, s.SavingVideo,
		toJSON(s.SafeArea), toJSON(s.PatrolArea), toJSON(s.PatrolPattern), toJSON(s.PatrolHomePosition),
		s.PatrolEnabled, mode, s.EnableFocusDuringPatrol,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (m StreamModel) GetByID(ctx context.Context, streamID string) (*Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE stream_id = $1`
	row := m.DB.QueryRowContext(ctx, query, streamID)
	return scanStream(row)
}

func (m StreamModel) List(ctx context.Context) ([]*Stream, error) {
	return m.list(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY stream_id`)
}

func (m StreamModel) ListActive(ctx context.Context) ([]*Stream, error) {
	return m.list(ctx, `SELECT `+streamColumns+` FROM streams WHERE is_active = true ORDER BY stream_id`)
}

func (m StreamModel) list(ctx context.Context, query string) ([]*Stream, error) {
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m StreamModel) Update(ctx context.Context, s *Stream) error {
	if err := s.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE streams SET
			rtsp_link=$2, model_name=$3, location=$4, description=$5, is_active=$6,
			ptz=$7, ptz_autotrack=$8, intrusion_detection=$9, saving_video=$10,
			patrol_enabled=$11, patrol_mode=$12, enable_focus_during_patrol=$13,
			updated_at=now()
		WHERE stream_id=$1`
	res, err := m.DB.ExecContext(ctx, query,
		s.StreamID, s.RTSPLink, s.ModelName, s.Location, s.Description, s.IsActive,
		toJSON(s.PTZ), s.PTZAutotrack, s.IntrusionDetection, s.SavingVideo,
		s.PatrolEnabled, s.PatrolMode, s.EnableFocusDuringPatrol)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m StreamModel) Delete(ctx context.Context, streamID string) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM streams WHERE stream_id = $1`, streamID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetFlag flips a boolean column. The column name is always a compile-time
// constant at call sites; allow-list anyway so a bad caller cannot inject.
func (m StreamModel) SetFlag(ctx context.Context, streamID, column string, value bool) error {
	switch column {
	case "is_active", "ptz_autotrack", "intrusion_detection", "saving_video", "patrol_enabled", "enable_focus_during_patrol":
	default:
		return fmt.Errorf("flag column not allowed: %s", column)
	}
	query := fmt.Sprintf(`UPDATE streams SET %s = $2, updated_at = now() WHERE stream_id = $1`, column)
	res, err := m.DB.ExecContext(ctx, query, streamID, value)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m StreamModel) SaveSafeArea(ctx context.Context, streamID string, area *SafeArea) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE streams SET safe_area = $2, updated_at = now() WHERE stream_id = $1`,
		streamID, toJSON(area))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m StreamModel) SavePatrolArea(ctx context.Context, streamID string, area *PatrolArea) error {
	if area != nil {
		area.Normalize()
	}
	res, err := m.DB.ExecContext(ctx,
		`UPDATE streams SET patrol_area = $2, updated_at = now() WHERE stream_id = $1`,
		streamID, toJSON(area))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m StreamModel) SavePatrolPattern(ctx context.Context, streamID string, pattern []Waypoint) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE streams SET patrol_pattern = $2, updated_at = now() WHERE stream_id = $1`,
		streamID, toJSON(pattern))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m StreamModel) SaveHomePosition(ctx context.Context, streamID string, pos *PTZPosition) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE streams SET patrol_home_position = $2, updated_at = now() WHERE stream_id = $1`,
		streamID, toJSON(pos))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m StreamModel) SetPatrolMode(ctx context.Context, streamID string, mode PatrolMode, enabled bool) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE streams SET patrol_mode = $2, patrol_enabled = $3, updated_at = now() WHERE stream_id = $1`,
		streamID, mode, enabled)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (*Stream, error) {
	var s Stream
	var ptz, safeArea, patrolArea, pattern, home sql.NullString
	err := row.Scan(
		&s.StreamID, &s.RTSPLink, &s.ModelName, &s.Location, &s.Description, &s.IsActive,
		&ptz, &s.PTZAutotrack, &s.IntrusionDetection, &s.SavingVideo,
		&safeArea, &patrolArea, &pattern, &home,
		&s.PatrolEnabled, &s.PatrolMode, &s.EnableFocusDuringPatrol,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	fromJSON(ptz, &s.PTZ)
	fromJSON(safeArea, &s.SafeArea)
	fromJSON(patrolArea, &s.PatrolArea)
	fromJSON(pattern, &s.PatrolPattern)
	fromJSON(home, &s.PatrolHomePosition)
	return &s, nil
}

// toJSON marshals optional blocks to a nullable JSONB parameter.
func toJSON(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case *PTZCredentials:
		if t == nil {
			return nil
		}
	case *SafeArea:
		if t == nil {
			return nil
		}
	case *PatrolArea:
		if t == nil {
			return nil
		}
	case *PTZPosition:
		if t == nil {
			return nil
		}
	case []Waypoint:
		if t == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func fromJSON[T any](src sql.NullString, dst *T) {
	if !src.Valid || src.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(src.String), dst)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
