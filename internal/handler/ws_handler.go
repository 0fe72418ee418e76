/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, validating
the room and the caller's identity, upgrading the HTTP connection to WebSocket, and running the session.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"rtgateway/internal/app/user"
	"rtgateway/internal/pkg/auth/jwt"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/limiter"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/randx"
	"rtgateway/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !deps.Limiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomID := chi.URLParam(r, "room")
		if !randx.IsValidRoomID(roomID) {
			logx.Warn("WebSocket request rejected: invalid room id", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIDInvalid))
			return
		}

		currentUser, customErr := identify(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		logx.Info("WebSocket connection established", "room_id", roomID, "user_id", currentUser.ID)

		deps.Gateway.Serve(r.Context(), conn, currentUser, roomID)
	}
}

// identify prefers the login ticket and falls back to an anonymous identity
// built from the username query parameter.
func identify(r *http.Request) (user.User, *errs.CustomError) {
	if payload := jwt.GetPayloadFromContext(r); payload != nil {
		return user.User{ID: payload.UserID, Username: payload.Username}, nil
	}

	u, err := user.Anonymous(r.URL.Query().Get("username"))
	if err != nil {
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}
	return u, nil
}
