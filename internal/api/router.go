package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-safety/internal/middleware"
)

// RouterDeps bundles the handlers the router mounts.
type RouterDeps struct {
	Auth     *AuthHandler
	Commands *CommandHandler
	Streams  *StreamHandler
	Events   *EventHandler
	Hub      *WSHub
	JWT      *middleware.JWTAuth

	// StaticDir is served under /static for clip and frame downloads.
	StaticDir string
}

// NewRouter assembles the HTTP surface: public auth and health, JWT-gated
// API, metrics and the WebSocket bridge.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondSuccess(w, "ok", nil)
	})
	r.Handle("/metrics", promhttp.Handler())

	// The hub does its own token check from the query string.
	r.Get("/ws", deps.Hub.ServeWS)

	if deps.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticDir)))
		r.Handle("/static/*", fs)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Metrics)

		r.Post("/auth/token", deps.Auth.Token)
		r.Post("/auth/refresh", deps.Auth.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(deps.JWT.Middleware)

			r.Route("/streams", func(r chi.Router) {
				r.Post("/", deps.Streams.Create)
				r.Get("/", deps.Streams.List)
				r.Get("/{streamID}", deps.Streams.Get)
				r.Put("/{streamID}", deps.Streams.Update)
				r.Delete("/{streamID}", deps.Streams.Delete)
				r.Get("/{streamID}/health", deps.Streams.Health)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", deps.Events.List)
				r.Get("/{eventID}", deps.Events.Get)
				r.Post("/{eventID}/resolve", deps.Events.Resolve)
			})

			r.Route("/command", func(r chi.Router) {
				c := deps.Commands
				r.Post("/start_stream", c.StartStream)
				r.Post("/stop_stream", c.StopStream)
				r.Post("/restart_stream", c.RestartStream)
				r.Post("/bulk_start_streams", c.BulkStartStreams)
				r.Post("/bulk_stop_streams", c.BulkStopStreams)
				r.Post("/change_autotrack", c.ChangeAutotrack)
				r.Post("/toggle_patrol", c.TogglePatrol)
				r.Post("/toggle_patrol_focus", c.TogglePatrolFocus)
				r.Post("/save_patrol_area", c.SavePatrolArea)
				r.Post("/get_patrol_area", c.GetPatrolArea)
				r.Post("/save_patrol_pattern", c.SavePatrolPattern)
				r.Post("/get_patrol_pattern", c.GetPatrolPattern)
				r.Post("/preview_patrol_pattern", c.PreviewPatrolPattern)
				r.Post("/set_danger_zone", c.SetDangerZone)
				r.Post("/set_camera_mode", c.SetCameraMode)
				r.Post("/get_camera_mode", c.GetCameraMode)
				r.Post("/get_safe_area", c.GetSafeArea)
				r.Post("/toggle_intrusion_detection", c.ToggleIntrusionDetection)
				r.Post("/toggle_saving_video", c.ToggleSavingVideo)
				r.Post("/get_current_frame", c.GetCurrentFrame)
				r.Post("/get_current_ptz_values", c.GetCurrentPTZValues)
			})
		})
	})

	return r
}
