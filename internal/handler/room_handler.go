/*
Package handler provides HTTP handler functions for reading and posting to rooms.
*/
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rtgateway/internal/app/chat"
	"rtgateway/internal/app/user"
	"rtgateway/internal/pkg/auth/jwt"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/randx"
	"rtgateway/internal/pkg/req"
	"rtgateway/internal/pkg/resp"
)

const (
	// DefaultHistoryLimit is used when ?limit is absent.
	DefaultHistoryLimit = 50

	// SourceBackend selects service A's directory on the users endpoint.
	SourceBackend = "backend"
)

// roomParam validates the {room} URL parameter.
func roomParam(r *http.Request) (string, *errs.CustomError) {
	roomID := chi.URLParam(r, "room")
	if !randx.IsValidRoomID(roomID) {
		return "", errs.NewError(errs.ErrRoomIDInvalid)
	}
	return roomID, nil
}

// HandleRoomUsers lists a room's members from the local roster, or from
// service A when ?source=backend.
func HandleRoomUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, customErr := roomParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if r.URL.Query().Get("source") == SourceBackend {
			users, err := deps.Backend.OnlineUsers(r.Context(), roomID)
			if err != nil {
				logx.Warn("online users: service A call failed", "room_id", roomID, "error", err.Error())
				resp.RespondError(w, r, errs.FromError(err))
				return
			}
			resp.RespondSuccess(w, r, map[string]any{
				"room_id":     roomID,
				"source":      SourceBackend,
				"users":       users,
				"total_count": len(users),
			})
			return
		}

		roster := deps.Hub.Roster(roomID)
		resp.RespondSuccess(w, r, map[string]any{
			"room_id":     roomID,
			"source":      "local",
			"users":       roster,
			"total_count": len(roster),
		})
	}
}

// HandleRoomMessages returns the newest stored events, oldest first.
func HandleRoomMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, customErr := roomParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		limit, customErr := req.QueryInt(r, "limit", DefaultHistoryLimit, 1, chat.HistoryCapacity)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		events := deps.Hub.History(roomID, limit)
		resp.RespondSuccess(w, r, map[string]any{
			"room_id":  roomID,
			"messages": events,
			"count":    len(events),
		})
	}
}

type PostMessageInput struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// HandlePostMessage stores and broadcasts a message without sending it
// through service A.
func HandlePostMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, customErr := roomParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var input PostMessageInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if strings.TrimSpace(input.Content) == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentEmpty))
			return
		}
		if len(input.Content) > chat.MaxContentBytes {
			resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentTooLong))
			return
		}

		var author user.User
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			author = user.User{ID: payload.UserID, Username: payload.Username}
		} else {
			anon, err := user.Anonymous(input.Username)
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
				return
			}
			author = anon
		}

		event := chat.LocalMessage(roomID, author.ID, author.Username, input.Content, time.Now())
		deps.Hub.Publish(roomID, event, "")

		resp.RespondSuccess(w, r, event)
	}
}
