package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"rtgateway/internal/app/chat"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/randx"
	"rtgateway/internal/pkg/req"
	"rtgateway/internal/pkg/resp"
)

// HandshakeInput announces an upload before its chunks are sent over the WebSocket.
type HandshakeInput struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	RoomID   string `json:"room_id,omitempty"`
}

// HandleFileHandshake validates an upload announcement and issues the file
// id the client must use in its FILE_CHUNK and FILE_SHARE frames. When a
// proof-of-work difficulty is configured the request must carry a proof token.
func HandleFileHandshake(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.PoW.Enabled() && !deps.PoW.ConsumeProofToken(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
			return
		}

		var input HandshakeInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if strings.TrimSpace(input.Filename) == "" || input.FileSize < 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if input.RoomID != "" && !randx.IsValidRoomID(input.RoomID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIDInvalid))
			return
		}

		maxBytes := deps.Config.UploadMaxBytes
		if input.FileSize > maxBytes {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileSizeTooLarge, maxBytes))
			return
		}

		chunkSize := int64(chat.RedistributionChunkSize)
		resp.RespondSuccess(w, r, map[string]any{
			"file_id":      randx.FileID(),
			"filename":     input.Filename,
			"file_size":    input.FileSize,
			"max_bytes":    maxBytes,
			"chunk_size":   chunkSize,
			"total_chunks": max(1, (input.FileSize+chunkSize-1)/chunkSize),
		})
	}
}

// HandleFileStatus reports the state of an in-progress or failed upload.
func HandleFileStatus(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileID")
		if fileID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileIDMissing))
			return
		}

		snap, ok := deps.Uploads.Inspect(fileID)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUploadNotFound))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"file_id":        snap.FileID,
			"filename":       snap.Filename,
			"mime_type":      snap.MimeType,
			"declared_size":  snap.DeclaredSize,
			"room_id":        snap.RoomID,
			"state":          snap.State,
			"total_chunks":   snap.TotalChunks,
			"received":       snap.Received,
			"bytes_received": snap.BytesReceived,
			"started_at":     snap.StartedAt,
			"updated_at":     snap.UpdatedAt,
			"error":          snap.Err,
		})
	}
}
