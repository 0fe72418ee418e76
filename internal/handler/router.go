/*
Package handler provides the HTTP handlers and routing setup for the gateway.

This file defines the main Router, applying middleware like logging, CORS and
ticket extraction before delegating requests to the REST facade and the
WebSocket endpoint.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"rtgateway/internal/pkg/auth/jwt"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/resp"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "rtgateway"

// Router sets up the main HTTP routing table (chi.Router) for the application.
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-PoW-Token"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.With(deps.Limiter.Middleware).Post("/login", HandleLogin(deps))

		api.Route("/rooms/{room}", func(room chi.Router) {
			room.Get("/users", HandleRoomUsers(deps))
			room.Get("/messages", HandleRoomMessages(deps))
			room.Post("/messages", HandlePostMessage(deps))
		})

		api.Route("/files", func(files chi.Router) {
			files.With(deps.Limiter.Middleware).Post("/handshake", HandleFileHandshake(deps))
			files.Get("/{fileID}", HandleFileStatus(deps))
		})

		api.Post("/execute", HandleExecute(deps))

		api.Route("/pow", func(p chi.Router) {
			p.Get("/challenge", HandlePowChallenge(deps))
			p.Post("/verify", HandlePowVerify(deps))
		})
	})

	r.With(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret)).
		Get("/ws/{room}", HandleWebSocket(deps, wsUpgrader))

	return r
}

// HandleHealth reports liveness with the hub's counters.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Hub.Stats()
		resp.RespondSuccess(w, r, map[string]any{
			"status":      "ok",
			"service":     ServiceName,
			"transport":   deps.Config.BackendTransport,
			"rooms":       stats.Rooms,
			"connections": stats.Connections,
		})
	}
}
