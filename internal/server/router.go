package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agentfi/agentfi-social-agent/internal/agent"
	"github.com/agentfi/agentfi-social-agent/internal/auth"
	"github.com/agentfi/agentfi-social-agent/internal/connection"
)

// ServiceName labels tracing spans.
const ServiceName = "social-agent"

// RouterDeps are the collaborators of the HTTP surface. Journal, Auth and
// Limiter are optional.
type RouterDeps struct {
	Runtime     *Runtime
	Catalog     agent.Catalog
	Journal     JournalReader
	Auth        *auth.Service
	Limiter     *RateLimiter
	CORSOrigins []string
}

// NewRouter builds the control surface.
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, ServiceName)
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := NewHandler(d.Runtime, d.Journal)
	agents := agent.NewHandler(d.Catalog, d.Runtime)
	conns := connection.NewHandler(d.Runtime.Connections())

	if d.Auth != nil {
		r.Mount("/auth", auth.NewHandler(d.Auth).Routes())
	}

	r.Group(func(r chi.Router) {
		if d.Auth != nil {
			r.Use(requireAuthForWrites(d.Auth))
		}
		r.Get("/", h.HandleStatus)
		r.Mount("/agents", agents.Routes())
		r.Mount("/connections", conns.Routes())
		r.Mount("/agent", h.Routes())
	})

	return r
}

// requireAuthForWrites applies the auth middleware to every method except
// GET, HEAD and OPTIONS.
func requireAuthForWrites(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := svc.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				guarded.ServeHTTP(w, r)
			}
		})
	}
}
