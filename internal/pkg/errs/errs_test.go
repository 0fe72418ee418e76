package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct{ code int }

func (e codedErr) Error() string { return "coded" }
func (e codedErr) ErrorCode() int { return e.code }

func TestNewErrorFormatsPlaceholders(t *testing.T) {
	e := NewError(ErrFileSizeTooLarge, 26214400)
	assert.Equal(t, "File is too large. The limit is 26214400 bytes.", e.Message)
	assert.Equal(t, http.StatusRequestEntityTooLarge, e.Status)
}

func TestNewErrorUnknownCode(t *testing.T) {
	e := NewError(424242)
	assert.Equal(t, ErrUnknown, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
}

func TestEveryCodeHasAStatus(t *testing.T) {
	for code, tmpl := range errorMap {
		assert.Equal(t, code, tmpl.Code)
		assert.NotZero(t, tmpl.Status, "code %d", code)
	}
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	direct := NewError(ErrRoomIDInvalid)
	assert.Same(t, direct, FromError(fmt.Errorf("wrapped: %w", direct)))

	mapped := FromError(fmt.Errorf("call: %w", codedErr{code: ErrBackendTimeout}))
	assert.Equal(t, ErrBackendTimeout, mapped.Code)
	assert.Equal(t, http.StatusGatewayTimeout, mapped.Status)

	assert.Equal(t, ErrUnknown, FromError(errors.New("boom")).Code)
}
