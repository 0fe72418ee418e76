/*
Package handler provides the login endpoint.

Login is a pass-through: service A decides, the gateway only turns a positive
answer into a session ticket the WebSocket handshake can present.
*/
package handler

import (
	"net/http"
	"time"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/app/user"
	"rtgateway/internal/pkg/auth/jwt"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/randx"
	"rtgateway/internal/pkg/req"
	"rtgateway/internal/pkg/resp"
)

type LoginInput struct {
	Username string `json:"username"`
	RoomID   string `json:"room_id,omitempty"`
}

// HandleLogin forwards the login to service A and issues a ticket on success.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		username := user.NormalizeUsername(input.Username)
		if username == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if input.RoomID != "" && !randx.IsValidRoomID(input.RoomID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIDInvalid))
			return
		}

		result, err := deps.Backend.Login(r.Context(), backend.LoginRequest{Username: username, RoomID: input.RoomID})
		if err != nil {
			logx.Warn("login: service A call failed", "username", username, "error", err.Error())
			resp.RespondError(w, r, errs.FromError(err))
			return
		}
		if !result.Success {
			logx.Info("login: rejected by service A", "username", username)
			resp.RespondError(w, r, errs.NewError(errs.ErrLoginRejected, result.Message))
			return
		}

		payload := &jwt.Payload{
			UserID:   result.UserID,
			Username: result.Username,
			RoomID:   input.RoomID,
		}
		if payload.Username == "" {
			payload.Username = username
		}

		tokenString, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.TicketExpiration)
		if err != nil {
			logx.Error(err, "failed to generate ticket after login")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token":      tokenString,
			"expires_at": time.Now().Add(jwt.TicketExpiration).Unix(),
			"user": user.User{
				ID:       payload.UserID,
				Username: payload.Username,
			},
			"message": result.Message,
		})
	}
}
