package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCreateFillsDefaultsAndDedups(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := EventModel{DB: db}
	e := &Event{
		StreamID:  "cam-1",
		ModelName: ModelPPE,
		Reasons:   []string{"missing_helmet", "missing_helmet", "intrusion"},
		VideoName: "video_PPE_1.mp4",
	}
	require.NoError(t, m.Create(context.Background(), e))

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, []string{"missing_helmet", "intrusion"}, e.Reasons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	rows := sqlmock.NewRows([]string{
		"event_id", "stream_id", "model_name", "ts", "reasons", "video_name", "is_resolved",
	}).AddRow(id, "cam-1", "Fire", time.Now(), "{fire_detected,smoke_detected}", "video_Fire_1.mp4", false)

	mock.ExpectQuery("SELECT .+ FROM events WHERE event_id").
		WithArgs(id).
		WillReturnRows(rows)

	m := EventModel{DB: db}
	e, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "cam-1", e.StreamID)
	assert.Equal(t, []string{"fire_detected", "smoke_detected"}, e.Reasons)
}

func TestEventGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM events WHERE event_id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))

	m := EventModel{DB: db}
	_, err = m.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestEventResolveMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE events SET is_resolved").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := EventModel{DB: db}
	assert.ErrorIs(t, m.Resolve(context.Background(), id), ErrRecordNotFound)
}

func TestDedupReasonsDropsEmpty(t *testing.T) {
	out := dedupReasons([]string{"", "a", "b", "a", ""})
	assert.Equal(t, []string{"a", "b"}, out)
}
