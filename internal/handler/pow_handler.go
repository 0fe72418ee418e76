package handler

import (
	"errors"
	"net/http"

	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/pow"
	"rtgateway/internal/pkg/req"
	"rtgateway/internal/pkg/resp"
)

// HandlePowChallenge issues a proof-of-work nonce.
func HandlePowChallenge(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.PoW.Enabled() {
			resp.RespondSuccess(w, r, map[string]any{"enabled": false})
			return
		}

		challenge := deps.PoW.NewChallenge()
		resp.RespondSuccess(w, r, map[string]any{
			"enabled":    true,
			"nonce":      challenge.Nonce,
			"difficulty": challenge.Difficulty,
			"expires_at": challenge.ExpiresAt,
		})
	}
}

type PowVerifyInput struct {
	Nonce   string `json:"nonce"`
	Counter string `json:"counter"`
}

// HandlePowVerify trades a solved challenge for a single-use proof token.
func HandlePowVerify(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.PoW.Enabled() {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		var input PowVerifyInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if input.Nonce == "" || input.Counter == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		token, err := deps.PoW.ValidateProof(input.Nonce, input.Counter)
		switch {
		case errors.Is(err, pow.ErrNonceInvalid), errors.Is(err, pow.ErrProofInsufficient):
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeInvalid))
			return
		case err != nil:
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeInternal))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token":      token,
			"header":     pow.TokenHeaderKey,
			"expires_in": int(pow.ProofTokenDuration.Seconds()),
		})
	}
}
