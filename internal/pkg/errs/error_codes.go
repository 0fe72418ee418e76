/*
Package errs defines the gateway's client-facing error codes and the
CustomError type that carries them.

The same codes appear in the REST envelope ({code, message, data}) and in
SYSTEM frames sent over a WebSocket, so a client can handle both surfaces
with one table.
*/
package errs

// 1xxx: request and frame handling
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing data after the JSON document.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the caller exceeded its request budget.
	ErrRateLimitExceeded = 1007

	// ErrInvalidFrame indicates a WebSocket frame that could not be decoded.
	ErrInvalidFrame = 1008
)

// 2xxx: rooms, messages and files
const (
	// ErrRoomIDInvalid indicates an empty or malformed room id.
	ErrRoomIDInvalid = 2101

	// ErrMessageContentTooLong indicates message content above the configured limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageContentEmpty indicates a message without content.
	ErrMessageContentEmpty = 2202

	// ErrFileSizeTooLarge indicates a declared file size above the upload cap.
	ErrFileSizeTooLarge = 2301

	// ErrFileIDMissing indicates a file frame without a file id.
	ErrFileIDMissing = 2302

	// ErrChunkDataInvalid indicates chunk data that is not valid base64.
	ErrChunkDataInvalid = 2303
)

// 3xxx: identity and abuse protection
const (
	// ErrPowChallengeRequired indicates the client must solve a proof-of-work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates a wrong or reused proof-of-work answer.
	ErrPowChallengeInvalid = 3002

	// ErrPowChallengeInternal indicates the challenge could not be generated.
	ErrPowChallengeInternal = 3003

	// ErrLoginRejected indicates that service A declined the login.
	ErrLoginRejected = 3004

	// ErrUnauthorized indicates a missing identity where one is required.
	ErrUnauthorized = 3005
)

// 4xxx: backend calls and uploads
const (
	// ErrBackendUnavailable indicates that a backend could not be reached or failed the call.
	ErrBackendUnavailable = 4001

	// ErrBackendTimeout indicates that a backend call ran past its deadline.
	ErrBackendTimeout = 4002

	// ErrUploadNotFound indicates an unknown or already finalized file id.
	ErrUploadNotFound = 4101

	// ErrUploadForwardFailed indicates that service B did not accept the reassembled file.
	ErrUploadForwardFailed = 4102
)

// 5xxx: internal
const (
	// ErrUnknown represents an unclassified server error.
	ErrUnknown = 5000
)
