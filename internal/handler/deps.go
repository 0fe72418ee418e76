package handler

import (
	"net/http"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/app/chat"
	"rtgateway/internal/app/upload"
	"rtgateway/internal/configs"
	"rtgateway/internal/pkg/limiter"
	"rtgateway/internal/pkg/pow"
)

// AppDeps carries everything the handlers need. It is built once in main.
type AppDeps struct {
	Config  *configs.AppConfig
	Hub     *chat.Hub
	Gateway *chat.Gateway
	Backend backend.Client
	Uploads *upload.Reassembler
	PoW     *pow.PoWManager

	// Limiter guards the WebSocket handshake, login and the upload handshake.
	Limiter *limiter.IPRateLimiter

	// Metrics serves /metrics. Optional.
	Metrics http.Handler
}
