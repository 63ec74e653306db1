package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/engine"
)

type fakeStreamRepo struct {
	streams map[string]*data.Stream
	deleted []string
}

func newFakeStreamRepo(streams ...*data.Stream) *fakeStreamRepo {
	r := &fakeStreamRepo{streams: make(map[string]*data.Stream)}
	for _, s := range streams {
		r.streams[s.StreamID] = s
	}
	return r
}

func (r *fakeStreamRepo) Create(ctx context.Context, s *data.Stream) error {
	r.streams[s.StreamID] = s
	return nil
}

func (r *fakeStreamRepo) GetByID(ctx context.Context, streamID string) (*data.Stream, error) {
	s, ok := r.streams[streamID]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return s, nil
}

func (r *fakeStreamRepo) List(ctx context.Context) ([]*data.Stream, error) {
	out := make([]*data.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeStreamRepo) ListActive(ctx context.Context) ([]*data.Stream, error) {
	return nil, nil
}

func (r *fakeStreamRepo) Update(ctx context.Context, s *data.Stream) error {
	if _, ok := r.streams[s.StreamID]; !ok {
		return data.ErrRecordNotFound
	}
	r.streams[s.StreamID] = s
	return nil
}

func (r *fakeStreamRepo) Delete(ctx context.Context, streamID string) error {
	if _, ok := r.streams[streamID]; !ok {
		return data.ErrRecordNotFound
	}
	delete(r.streams, streamID)
	r.deleted = append(r.deleted, streamID)
	return nil
}

func (r *fakeStreamRepo) SetFlag(ctx context.Context, streamID, column string, value bool) error {
	return nil
}

func (r *fakeStreamRepo) SaveSafeArea(ctx context.Context, streamID string, area *data.SafeArea) error {
	return nil
}

func (r *fakeStreamRepo) SavePatrolArea(ctx context.Context, streamID string, area *data.PatrolArea) error {
	return nil
}

func (r *fakeStreamRepo) SavePatrolPattern(ctx context.Context, streamID string, pattern []data.Waypoint) error {
	return nil
}

func (r *fakeStreamRepo) SaveHomePosition(ctx context.Context, streamID string, pos *data.PTZPosition) error {
	return nil
}

func (r *fakeStreamRepo) SetPatrolMode(ctx context.Context, streamID string, mode data.PatrolMode, enabled bool) error {
	return nil
}

type fakeEventRepo struct {
	events   map[uuid.UUID]*data.Event
	resolved []uuid.UUID
}

func newFakeEventRepo(events ...*data.Event) *fakeEventRepo {
	r := &fakeEventRepo{events: make(map[uuid.UUID]*data.Event)}
	for _, e := range events {
		r.events[e.ID] = e
	}
	return r
}

func (r *fakeEventRepo) Create(ctx context.Context, e *data.Event) error {
	r.events[e.ID] = e
	return nil
}

func (r *fakeEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*data.Event, error) {
	e, ok := r.events[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return e, nil
}

func (r *fakeEventRepo) ListByStream(ctx context.Context, streamID string, limit, offset int) ([]*data.Event, error) {
	var out []*data.Event
	for _, e := range r.events {
		if e.StreamID == streamID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) List(ctx context.Context, limit, offset int) ([]*data.Event, error) {
	out := make([]*data.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeEventRepo) Resolve(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.events[id]; !ok {
		return data.ErrRecordNotFound
	}
	r.resolved = append(r.resolved, id)
	return nil
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestCommandUnknownStreamReturns404(t *testing.T) {
	reg := engine.NewRegistry(engine.Deps{Streams: newFakeStreamRepo()})
	h := NewCommandHandler(reg)

	body := bytes.NewBufferString(`{"stream_id":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command/toggle_saving_video", body)
	rec := httptest.NewRecorder()

	h.ToggleSavingVideo(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "error", env.Status)
}

func TestCommandMissingStreamIDReturns400(t *testing.T) {
	reg := engine.NewRegistry(engine.Deps{Streams: newFakeStreamRepo()})
	h := NewCommandHandler(reg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/command/stop_stream", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.StopStream(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTogglePatrolRejectsUnknownMode(t *testing.T) {
	reg := engine.NewRegistry(engine.Deps{Streams: newFakeStreamRepo()})
	h := NewCommandHandler(reg)

	body := strings.NewReader(`{"stream_id":"cam-1","patrol_mode":"zigzag"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command/toggle_patrol", body)
	rec := httptest.NewRecorder()

	h.TogglePatrol(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkStopIsBestEffort(t *testing.T) {
	reg := engine.NewRegistry(engine.Deps{Streams: newFakeStreamRepo()})
	h := NewCommandHandler(reg)

	body := strings.NewReader(`{"stream_ids":["a","b"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command/bulk_stop_streams", body)
	rec := httptest.NewRecorder()

	h.BulkStopStreams(rec, req)

	// Neither stream is running, but the batch itself still succeeds.
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "success", env.Status)
}

func TestDecodeCoordsSinglePolygon(t *testing.T) {
	coords, err := decodeCoords(json.RawMessage(`[[100,100],[400,100],[400,300]]`))
	require.NoError(t, err)
	require.Len(t, coords, 1)
	assert.Equal(t, [2]float64{400, 300}, coords[0][2])
}

func TestDecodeCoordsPolygonList(t *testing.T) {
	coords, err := decodeCoords(json.RawMessage(`[[[0,0],[1,0],[1,1]],[[5,5],[6,5],[6,6]]]`))
	require.NoError(t, err)
	assert.Len(t, coords, 2)
}

func TestDecodeCoordsRejectsGarbage(t *testing.T) {
	_, err := decodeCoords(json.RawMessage(`"circle"`))
	assert.Error(t, err)
	_, err = decodeCoords(nil)
	assert.Error(t, err)
}

func TestDecodeImagePayloadStripsDataURL(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF}
	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	out, err := decodeImagePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	out, err = decodeImagePayload(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func streamRouter(h *StreamHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/streams", h.Create)
	r.Get("/streams", h.List)
	r.Get("/streams/{streamID}", h.Get)
	r.Delete("/streams/{streamID}", h.Delete)
	return r
}

func TestStreamCreateAndGet(t *testing.T) {
	repo := newFakeStreamRepo()
	router := streamRouter(NewStreamHandler(repo, nil))

	body := strings.NewReader(`{"stream_id":"cam-1","rtsp_link":"rtsp://cam/stream","model_name":"PPE"}`)
	req := httptest.NewRequest(http.MethodPost, "/streams", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/streams/cam-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamCreateRejectsInvalid(t *testing.T) {
	router := streamRouter(NewStreamHandler(newFakeStreamRepo(), nil))

	// Missing rtsp_link fails validation.
	body := strings.NewReader(`{"stream_id":"cam-1","model_name":"PPE"}`)
	req := httptest.NewRequest(http.MethodPost, "/streams", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamGetNotFound(t *testing.T) {
	router := streamRouter(NewStreamHandler(newFakeStreamRepo(), nil))

	req := httptest.NewRequest(http.MethodGet, "/streams/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func eventRouter(h *EventHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/events", h.List)
	r.Get("/events/{eventID}", h.Get)
	r.Post("/events/{eventID}/resolve", h.Resolve)
	return r
}

func TestEventResolve(t *testing.T) {
	ev := &data.Event{ID: uuid.New(), StreamID: "cam-1", ModelName: data.ModelPPE}
	repo := newFakeEventRepo(ev)
	router := eventRouter(NewEventHandler(repo))

	req := httptest.NewRequest(http.MethodPost, "/events/"+ev.ID.String()+"/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, repo.resolved, 1)
}

func TestEventResolveBadID(t *testing.T) {
	router := eventRouter(NewEventHandler(newFakeEventRepo()))

	req := httptest.NewRequest(http.MethodPost, "/events/not-a-uuid/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventListFiltersByStream(t *testing.T) {
	repo := newFakeEventRepo(
		&data.Event{ID: uuid.New(), StreamID: "cam-1"},
		&data.Event{ID: uuid.New(), StreamID: "cam-2"},
	)
	router := eventRouter(NewEventHandler(repo))

	req := httptest.NewRequest(http.MethodGet, "/events?stream_id=cam-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []data.Event `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Len(t, env.Data, 1)
}
