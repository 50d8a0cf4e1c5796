package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/handlers"
)

// RouterConfig carries the pieces the router assembles.
type RouterConfig struct {
	Handler     *handlers.Handler
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Logger      zerolog.Logger
	UploadDir   string // serve /uploads/* from here; empty disables
}

// NewRouter builds the HTTP surface: public widget routes, the
// bearer-authenticated dashboard, and operational endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	h := cfg.Handler

	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.ValidateRequest)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		// The widget is embedded on arbitrary customer sites.
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Chatwire-Visitor"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Operational
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Public widget surface. Possession of the room id is the
	// capability; visitor writes additionally prove the visitor id.
	r.Post("/widget/{widgetID}/room", h.OpenRoom)
	r.Route("/room/{roomID}", func(r chi.Router) {
		r.Get("/", h.GetRoom)
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.PostVisitorMessage)
		r.Get("/events", h.RoomEvents)
		r.Get("/presence", h.GetPresence)
		r.Post("/presence/join", h.VisitorJoin)
		r.Post("/presence/heartbeat", h.VisitorHeartbeat)
		r.Post("/presence/leave", h.VisitorLeave)
	})

	r.Post("/uploads", h.Upload)
	if cfg.UploadDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir)))
		r.Get("/uploads/*", fs.ServeHTTP)
	}

	// Dashboard surface, bearer token required.
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(cfg.Auth.RequireAgent)

		r.Get("/events", h.DashboardEvents)
		r.Get("/stats", h.Stats)

		r.Route("/widgets/{widgetID}", func(r chi.Router) {
			r.Get("/rooms", h.ListRooms)
			r.Get("/stats", h.WidgetStats)
			r.Post("/ban", h.BanVisitor)
		})

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Post("/messages", h.PostAgentMessage)
			r.Post("/close", h.CloseRoom)
			r.Post("/reopen", h.ReopenRoom)
			r.Post("/read", h.MarkRead)
			r.Post("/presence/join", h.AgentJoin)
			r.Post("/presence/heartbeat", h.AgentHeartbeat)
			r.Post("/presence/leave", h.AgentLeave)
		})
	})

	return r
}
