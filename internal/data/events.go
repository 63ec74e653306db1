package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Event is one persisted safety violation with its recorded clip.
type Event struct {
	ID         uuid.UUID `json:"event_id"`
	StreamID   string    `json:"stream_id"`
	ModelName  ModelName `json:"model_name"`
	Timestamp  time.Time `json:"timestamp"`
	Reasons    []string  `json:"reasons"`
	VideoName  string    `json:"video_name"`
	IsResolved bool      `json:"is_resolved"`
}

// EventRepository persists event records for recorded clips.
type EventRepository interface {
	Create(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	ListByStream(ctx context.Context, streamID string, limit, offset int) ([]*Event, error)
	List(ctx context.Context, limit, offset int) ([]*Event, error)
	Resolve(ctx context.Context, id uuid.UUID) error
}

type EventModel struct {
	DB DBTX
}

func (m EventModel) Create(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	// Reason tokens in a persisted event are unique.
	e.Reasons = dedupReasons(e.Reasons)

	query := `
		INSERT INTO events (event_id, stream_id, model_name, ts, reasons, video_name, is_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := m.DB.ExecContext(ctx, query,
		e.ID, e.StreamID, e.ModelName, e.Timestamp, pq.Array(e.Reasons), e.VideoName, e.IsResolved)
	return err
}

func (m EventModel) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT event_id, stream_id, model_name, ts, reasons, video_name, is_resolved
		FROM events WHERE event_id = $1`
	var e Event
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.StreamID, &e.ModelName, &e.Timestamp, pq.Array(&e.Reasons), &e.VideoName, &e.IsResolved)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (m EventModel) ListByStream(ctx context.Context, streamID string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT event_id, stream_id, model_name, ts, reasons, video_name, is_resolved
		FROM events WHERE stream_id = $1
		ORDER BY ts DESC LIMIT $2 OFFSET $3`
	return m.listQuery(ctx, query, streamID, limit, offset)
}

func (m EventModel) List(ctx context.Context, limit, offset int) ([]*Event, error) {
	query := `
		SELECT event_id, stream_id, model_name, ts, reasons, video_name, is_resolved
		FROM events
		ORDER BY ts DESC LIMIT $1 OFFSET $2`
	return m.listQuery(ctx, query, limit, offset)
}

func (m EventModel) listQuery(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.StreamID, &e.ModelName, &e.Timestamp,
			pq.Array(&e.Reasons), &e.VideoName, &e.IsResolved); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (m EventModel) Resolve(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `UPDATE events SET is_resolved = true WHERE event_id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func dedupReasons(reasons []string) []string {
	seen := make(map[string]bool, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
