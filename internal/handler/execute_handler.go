package handler

import (
	"net/http"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/randx"
	"rtgateway/internal/pkg/req"
	"rtgateway/internal/pkg/resp"
)

const (
	DefaultStreamCount = 5
	MaxStreamCount     = 100
)

type ExecuteInput struct {
	Data      string `json:"data"`
	Operation string `json:"operation,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// HandleExecute runs data through service A, then feeds service A's result
// into a service B server stream and returns both.
func HandleExecute(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input ExecuteInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Count == 0 {
			input.Count = DefaultStreamCount
		}
		if input.Count < 1 || input.Count > MaxStreamCount {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if input.Operation == "" {
			input.Operation = deps.Config.MessageOperation
		}

		id := randx.MessageID()
		unary, err := deps.Backend.CallUnary(r.Context(), backend.UnaryRequest{
			ID:        id,
			Data:      input.Data,
			Operation: input.Operation,
		})
		if err != nil {
			logx.Warn("execute: service A call failed", "id", id, "error", err.Error())
			resp.RespondError(w, r, errs.FromError(err))
			return
		}

		stream, err := deps.Backend.CallServerStream(r.Context(), backend.StreamRequest{
			ID:    id,
			Data:  unary.Result,
			Count: input.Count,
		})
		if err != nil {
			logx.Warn("execute: service B call failed", "id", id, "error", err.Error())
			resp.RespondError(w, r, errs.FromError(err))
			return
		}
		defer stream.Close()

		results, err := stream.Collect()
		if err != nil {
			logx.Warn("execute: service B stream failed", "id", id, "received", len(results), "error", err.Error())
			resp.RespondError(w, r, errs.FromError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"id":     id,
			"unary":  unary,
			"stream": results,
			"count":  len(results),
		})
	}
}
