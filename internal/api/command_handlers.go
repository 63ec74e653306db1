package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/engine"
	"github.com/technosupport/ts-safety/internal/ptz"
)

// CommandHandler exposes the per-stream command surface over the
// running engine registry.
type CommandHandler struct {
	Registry *engine.Registry
}

func NewCommandHandler(reg *engine.Registry) *CommandHandler {
	return &CommandHandler{Registry: reg}
}

type streamRequest struct {
	StreamID string `json:"stream_id"`
}

func (h *CommandHandler) decodeStreamID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamID == "" {
		respondError(w, http.StatusBadRequest, "stream_id is required")
		return "", false
	}
	return req.StreamID, true
}

// engineFor resolves the running engine or writes the error response.
func (h *CommandHandler) engineFor(w http.ResponseWriter, streamID string) (*engine.Engine, bool) {
	eng, err := h.Registry.Get(streamID)
	if err != nil {
		respondError(w, http.StatusNotFound, "stream_not_running")
		return nil, false
	}
	return eng, true
}

// commandError maps engine and patrol errors onto HTTP statuses.
func commandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, data.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, engine.ErrNoPTZ),
		errors.Is(err, engine.ErrNoFrameYet),
		errors.Is(err, ptz.ErrPatrolActive),
		errors.Is(err, ptz.ErrNoWaypoints),
		errors.Is(err, ptz.ErrNoPatrolArea):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// POST /api/v1/command/start_stream
func (h *CommandHandler) StartStream(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	if err := h.Registry.Start(r.Context(), id); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "stream started", map[string]string{"stream_id": id})
}

// POST /api/v1/command/stop_stream
func (h *CommandHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	if err := h.Registry.Stop(id); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "stream stopped", map[string]string{"stream_id": id})
}

// POST /api/v1/command/restart_stream
func (h *CommandHandler) RestartStream(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	if err := h.Registry.Restart(r.Context(), id); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "stream restarted", map[string]string{"stream_id": id})
}

type bulkRequest struct {
	StreamIDs []string `json:"stream_ids"`
}

type bulkResult struct {
	Started []string          `json:"started,omitempty"`
	Stopped []string          `json:"stopped,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// POST /api/v1/command/bulk_start_streams
// Best effort: per-stream failures do not fail the batch.
func (h *CommandHandler) BulkStartStreams(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.StreamIDs) == 0 {
		respondError(w, http.StatusBadRequest, "stream_ids is required")
		return
	}

	res := bulkResult{Failed: make(map[string]string)}
	for _, id := range req.StreamIDs {
		if err := h.Registry.Start(r.Context(), id); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Started = append(res.Started, id)
	}
	respondSuccess(w, "bulk start complete", res)
}

// POST /api/v1/command/bulk_stop_streams
func (h *CommandHandler) BulkStopStreams(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.StreamIDs) == 0 {
		respondError(w, http.StatusBadRequest, "stream_ids is required")
		return
	}

	res := bulkResult{Failed: make(map[string]string)}
	for _, id := range req.StreamIDs {
		if err := h.Registry.Stop(id); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Stopped = append(res.Stopped, id)
	}
	respondSuccess(w, "bulk stop complete", res)
}

// POST /api/v1/command/change_autotrack
func (h *CommandHandler) ChangeAutotrack(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	enabled, err := eng.ChangeAutotrack(r.Context())
	if err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "autotrack changed", map[string]bool{"ptz_autotrack": enabled})
}

// POST /api/v1/command/toggle_patrol
func (h *CommandHandler) TogglePatrol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID   string          `json:"stream_id"`
		PatrolMode data.PatrolMode `json:"patrol_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamID == "" {
		respondError(w, http.StatusBadRequest, "stream_id is required")
		return
	}
	switch req.PatrolMode {
	case data.PatrolOff, data.PatrolGrid, data.PatrolPattern:
	default:
		respondError(w, http.StatusBadRequest, "patrol_mode must be off, grid or pattern")
		return
	}

	eng, ok := h.engineFor(w, req.StreamID)
	if !ok {
		return
	}
	if err := eng.TogglePatrol(r.Context(), req.PatrolMode); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "patrol mode set", map[string]any{"patrol_mode": req.PatrolMode})
}

// POST /api/v1/command/toggle_patrol_focus
func (h *CommandHandler) TogglePatrolFocus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	enabled, err := eng.TogglePatrolFocus(r.Context())
	if err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "patrol focus toggled", map[string]bool{"enable_focus_during_patrol": enabled})
}

// POST /api/v1/command/save_patrol_area
func (h *CommandHandler) SavePatrolArea(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID   string           `json:"stream_id"`
		PatrolArea *data.PatrolArea `json:"patrol_area"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamID == "" || req.PatrolArea == nil {
		respondError(w, http.StatusBadRequest, "stream_id and patrol_area are required")
		return
	}

	eng, ok := h.engineFor(w, req.StreamID)
	if !ok {
		return
	}
	if err := eng.SavePatrolArea(r.Context(), *req.PatrolArea); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "patrol area saved", nil)
}

// POST /api/v1/command/get_patrol_area
func (h *CommandHandler) GetPatrolArea(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	respondSuccess(w, "patrol area", map[string]any{"patrol_area": eng.PatrolArea()})
}

// POST /api/v1/command/save_patrol_pattern
func (h *CommandHandler) SavePatrolPattern(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID    string          `json:"stream_id"`
		Coordinates []data.Waypoint `json:"coordinates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamID == "" {
		respondError(w, http.StatusBadRequest, "stream_id is required")
		return
	}

	eng, ok := h.engineFor(w, req.StreamID)
	if !ok {
		return
	}
	if err := eng.SavePatrolPattern(r.Context(), req.Coordinates); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "patrol pattern saved", map[string]int{"waypoints": len(req.Coordinates)})
}

// POST /api/v1/command/get_patrol_pattern
func (h *CommandHandler) GetPatrolPattern(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	respondSuccess(w, "patrol pattern", map[string]any{"coordinates": eng.PatrolPattern()})
}

// POST /api/v1/command/preview_patrol_pattern
func (h *CommandHandler) PreviewPatrolPattern(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	if err := eng.PreviewPatrolPattern(); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "preview started", nil)
}

// POST /api/v1/command/set_danger_zone
func (h *CommandHandler) SetDangerZone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID string `json:"stream_id"`
		// Frontend clients historically send this one field camelCased.
		StreamIDCamel string          `json:"streamId"`
		Coords        json.RawMessage `json:"coords"`
		Image         string          `json:"image"`
		Static        bool            `json:"static"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "stream_id is required")
		return
	}
	if req.StreamID == "" {
		req.StreamID = req.StreamIDCamel
	}
	if req.StreamID == "" {
		respondError(w, http.StatusBadRequest, "stream_id is required")
		return
	}

	coords, err := decodeCoords(req.Coords)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var image []byte
	if req.Image != "" {
		image, err = decodeImagePayload(req.Image)
		if err != nil {
			respondError(w, http.StatusBadRequest, "image must be base64-encoded JPEG")
			return
		}
	}

	eng, ok := h.engineFor(w, req.StreamID)
	if !ok {
		return
	}
	if err := eng.SetDangerZone(r.Context(), coords, image, req.Static); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "danger zone saved", map[string]int{"polygons": len(coords)})
}

// decodeCoords accepts either one polygon ([[x,y]...]) or a list of
// polygons ([[[x,y]...]...]).
func decodeCoords(raw json.RawMessage) ([][][2]float64, error) {
	if len(raw) == 0 {
		return nil, errors.New("coords is required")
	}
	var many [][][2]float64
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many, nil
	}
	var one [][2]float64
	if err := json.Unmarshal(raw, &one); err == nil && len(one) > 0 {
		return [][][2]float64{one}, nil
	}
	return nil, errors.New("coords must be a polygon or list of polygons")
}

// decodeImagePayload strips an optional data-URL prefix and decodes the
// base64 body.
func decodeImagePayload(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}

// POST /api/v1/command/set_camera_mode
func (h *CommandHandler) SetCameraMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID string `json:"stream_id"`
		Static   bool   `json:"static"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamID == "" {
		respondError(w, http.StatusBadRequest, "stream_id is required")
		return
	}

	eng, ok := h.engineFor(w, req.StreamID)
	if !ok {
		return
	}
	if err := eng.SetCameraMode(r.Context(), req.Static); err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "camera mode set", map[string]bool{"static": req.Static})
}

// POST /api/v1/command/get_camera_mode
func (h *CommandHandler) GetCameraMode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	respondSuccess(w, "camera mode", map[string]bool{"static": eng.CameraMode()})
}

// POST /api/v1/command/get_safe_area
func (h *CommandHandler) GetSafeArea(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	respondSuccess(w, "safe area", map[string]any{"safe_area": eng.SafeArea()})
}

// POST /api/v1/command/toggle_intrusion_detection
func (h *CommandHandler) ToggleIntrusionDetection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	enabled, err := eng.ToggleIntrusionDetection(r.Context())
	if err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "intrusion detection toggled", map[string]bool{"intrusion_detection": enabled})
}

// POST /api/v1/command/toggle_saving_video
func (h *CommandHandler) ToggleSavingVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	enabled, err := eng.ToggleSavingVideo(r.Context())
	if err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "saving video toggled", map[string]bool{"saving_video": enabled})
}

// POST /api/v1/command/get_current_frame
func (h *CommandHandler) GetCurrentFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	name, err := eng.CurrentFrame()
	if err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "frame written", map[string]string{"filename": name})
}

// POST /api/v1/command/get_current_ptz_values
func (h *CommandHandler) GetCurrentPTZValues(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeStreamID(w, r)
	if !ok {
		return
	}
	eng, ok := h.engineFor(w, id)
	if !ok {
		return
	}
	pos, err := eng.CurrentPTZ(r.Context())
	if err != nil {
		commandError(w, err)
		return
	}
	respondSuccess(w, "ptz position", map[string]float64{"x": pos.Pan, "y": pos.Tilt, "z": pos.Zoom})
}
