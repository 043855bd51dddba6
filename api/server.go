/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind a proxy
  3. Logger:     One zerolog line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for dashboards and import tools

ROUTE GROUPS:
  /api/transactions/*   Transaction log
  /api/snapshots/*      Physical counts
  /api/items/{id}/*     Per-item reads
  /api/levels           Batch levels
  /api/alerts/*         Low-stock alerts and stock status
  /api/valuation        Stock value
  /api/health           Health check

SECURITY NOTE:
  No authentication middleware. Deploy behind a trusted proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.AppendTransaction)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", h.AppendSnapshot)
			r.Post("/reset", h.ResetSnapshot)
			r.Get("/{id}", h.GetSnapshot)
		})

		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/level", h.GetLevel)
			r.Get("/history", h.GetHistory)
			r.Get("/usage", h.GetUsage)
		})

		r.Get("/levels", h.GetLevels)
		r.Post("/alerts/low-stock", h.LowStock)
		r.Post("/alerts/stock-status", h.StockStatus)
		r.Post("/valuation", h.Valuation)
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				event := logger.Info()
				if status >= http.StatusInternalServerError {
					event = logger.Error()
				}
				event.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("http request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
