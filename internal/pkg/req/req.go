/*
Package req binds and validates incoming HTTP request data.
*/
package req

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"rtgateway/internal/pkg/errs"
)

// MaxJSONBodySize caps every JSON request body.
const MaxJSONBodySize int64 = 1 << 20

// BindJSON decodes the request body into dst. It requires a JSON content
// type, rejects unknown fields and trailing data, and caps the body at
// MaxJSONBodySize.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

// QueryInt reads an integer query parameter. A missing value yields def;
// a value that is not an integer or falls outside [min, max] is an error.
func QueryInt(r *http.Request, name string, def, min, max int) (int, *errs.CustomError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}

	return n, nil
}
