package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/engine"
)

// StreamHandler manages stream configuration records.
type StreamHandler struct {
	Streams  data.StreamRepository
	Registry *engine.Registry
}

func NewStreamHandler(streams data.StreamRepository, reg *engine.Registry) *StreamHandler {
	return &StreamHandler{Streams: streams, Registry: reg}
}

// POST /api/v1/streams
func (h *StreamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var s data.Stream
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := s.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Streams.Create(r.Context(), &s); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, Envelope{Status: "success", Message: "stream created", Data: s})
}

// GET /api/v1/streams
func (h *StreamHandler) List(w http.ResponseWriter, r *http.Request) {
	streams, err := h.Streams.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "streams", streams)
}

// GET /api/v1/streams/{streamID}
func (h *StreamHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")
	s, err := h.Streams.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "stream not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "stream", s)
}

// PUT /api/v1/streams/{streamID}
func (h *StreamHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")

	var s data.Stream
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.StreamID = id
	if err := s.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Streams.Update(r.Context(), &s); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "stream not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "stream updated", s)
}

// DELETE /api/v1/streams/{streamID}
// A running engine is stopped before the record is removed.
func (h *StreamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")

	if h.Registry != nil {
		if err := h.Registry.Stop(id); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if err := h.Streams.Delete(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "stream not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "stream deleted", map[string]string{"stream_id": id})
}

// GET /api/v1/streams/{streamID}/health
func (h *StreamHandler) Health(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")
	eng, err := h.Registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "stream_not_running")
		return
	}
	respondSuccess(w, "stream health", eng.HealthSnapshot())
}
