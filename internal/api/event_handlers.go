package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-safety/internal/data"
)

const defaultEventPage = 50

// EventHandler serves recorded violation events.
type EventHandler struct {
	Events data.EventRepository
}

func NewEventHandler(events data.EventRepository) *EventHandler {
	return &EventHandler{Events: events}
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultEventPage
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// GET /api/v1/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	var (
		events []*data.Event
		err    error
	)
	if streamID := r.URL.Query().Get("stream_id"); streamID != "" {
		events, err = h.Events.ListByStream(r.Context(), streamID, limit, offset)
	} else {
		events, err = h.Events.List(r.Context(), limit, offset)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "events", events)
}

// GET /api/v1/events/{eventID}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := h.Events.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "event", event)
}

// POST /api/v1/events/{eventID}/resolve
func (h *EventHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	if err := h.Events.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "event resolved", map[string]string{"event_id": id.String()})
}
