package errs

import "net/http"

// errorMap holds the message and HTTP status for every code.
// Messages with a %s/%d placeholder are formatted by NewError.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Malformed JSON body.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrInvalidFrame:          {Code: ErrInvalidFrame, Message: "Could not read that message.", Status: http.StatusBadRequest},

	// 2xxx
	ErrRoomIDInvalid:         {Code: ErrRoomIDInvalid, Message: "Invalid room id.", Status: http.StatusBadRequest},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrMessageContentEmpty:   {Code: ErrMessageContentEmpty, Message: "Message is empty.", Status: http.StatusBadRequest},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large. The limit is %d bytes.", Status: http.StatusRequestEntityTooLarge},
	ErrFileIDMissing:         {Code: ErrFileIDMissing, Message: "File id is required.", Status: http.StatusBadRequest},
	ErrChunkDataInvalid:      {Code: ErrChunkDataInvalid, Message: "File chunk is not valid base64.", Status: http.StatusBadRequest},

	// 3xxx
	ErrPowChallengeRequired: {Code: ErrPowChallengeRequired, Message: "Verification required. Please try again.", Status: http.StatusForbidden},
	ErrPowChallengeInvalid:  {Code: ErrPowChallengeInvalid, Message: "Verification failed. Please try again.", Status: http.StatusForbidden},
	ErrPowChallengeInternal: {Code: ErrPowChallengeInternal, Message: "Verification service error. Please try again later.", Status: http.StatusInternalServerError},
	ErrLoginRejected:        {Code: ErrLoginRejected, Message: "Login rejected: %s", Status: http.StatusUnauthorized},
	ErrUnauthorized:         {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 4xxx
	ErrBackendUnavailable:  {Code: ErrBackendUnavailable, Message: "A backend service is unavailable.", Status: http.StatusServiceUnavailable},
	ErrBackendTimeout:      {Code: ErrBackendTimeout, Message: "A backend service did not respond in time.", Status: http.StatusGatewayTimeout},
	ErrUploadNotFound:      {Code: ErrUploadNotFound, Message: "Upload not found.", Status: http.StatusNotFound},
	ErrUploadForwardFailed: {Code: ErrUploadForwardFailed, Message: "File upload failed. Please try again.", Status: http.StatusBadGateway},

	// 5xxx
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
