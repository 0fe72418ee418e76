/*
Package backend calls the two compute services behind the gateway.

Service A answers unary calls (message processing, login, online users).
Service B answers a server-streaming call and accepts client-streamed file
fragments. Both are reachable over gRPC or over JSON/REST; the transport is
picked once in New and hidden behind Client, so callers never branch on it.

Every call applies the configured timeout on top of the caller's context and
reports failures as *Error. Nothing is retried.
*/
package backend

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"google.golang.org/grpc"
)

// Service names a backend.
type Service string

const (
	ServiceA Service = "service-a"
	ServiceB Service = "service-b"
)

// MaxFragmentSize caps the payload of one FileChunk sent upstream.
const MaxFragmentSize = 1 << 20

// Transport selects the wire protocol.
type Transport string

const (
	TransportGRPC Transport = "grpc"
	TransportREST Transport = "rest"
)

// UnaryRequest asks service A to process one piece of data.
type UnaryRequest struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	Operation string `json:"operation"`
}

// UnaryResult is service A's answer. StatusCode follows HTTP conventions.
type UnaryResult struct {
	ID         string `json:"id"`
	Result     string `json:"result"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// StreamRequest asks service B for Count results derived from Data.
type StreamRequest struct {
	ID    string `json:"id"`
	Data  string `json:"data"`
	Count int    `json:"count"`
}

// StreamResult is one element of a server stream.
type StreamResult struct {
	ID             string `json:"id"`
	Result         string `json:"result"`
	Message        string `json:"message"`
	SequenceNumber int    `json:"sequence_number"`
	IsFinal        bool   `json:"is_final"`
}

// LoginRequest is forwarded to service A on login.
type LoginRequest struct {
	Username string `json:"username"`
	RoomID   string `json:"room_id"`
}

// LoginResult is service A's login decision.
type LoginResult struct {
	Success  bool   `json:"success"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// OnlineUser is one entry of service A's user directory.
type OnlineUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// FileChunk is one upstream fragment of a reassembled file. FileSize is the
// length of the whole file, repeated on every fragment.
type FileChunk struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	ChunkData   []byte `json:"chunk_data"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	FileSize    int64  `json:"file_size"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	RoomID      string `json:"room_id"`
}

// UploadAck is service B's verdict on an upload.
type UploadAck struct {
	Success       bool   `json:"success"`
	FileID        string `json:"file_id"`
	Message       string `json:"message"`
	BytesReceived int64  `json:"bytes_received"`
}

// Client is the gateway's view of both backends.
type Client interface {
	// CallUnary sends req to service A.
	CallUnary(ctx context.Context, req UnaryRequest) (UnaryResult, error)

	// CallServerStream opens a result stream on service B. The caller must
	// Close the returned stream.
	CallServerStream(ctx context.Context, req StreamRequest) (*ResultStream, error)

	// CallClientStream sends every chunk in order to service B's file
	// upload and returns its acknowledgement. Chunks larger than
	// MaxFragmentSize are refused before anything oversized is sent.
	CallClientStream(ctx context.Context, chunks iter.Seq[FileChunk]) (UploadAck, error)

	// Login forwards a login to service A.
	Login(ctx context.Context, req LoginRequest) (LoginResult, error)

	// OnlineUsers reads service A's user directory for a room.
	OnlineUsers(ctx context.Context, roomID string) ([]OnlineUser, error)

	// Close releases transport resources.
	Close() error
}

// Config selects and parameterizes the transport.
type Config struct {
	Transport Transport

	// gRPC targets (host:port).
	ServiceAAddr string
	ServiceBAddr string

	// REST base URLs.
	ServiceAURL string
	ServiceBURL string

	UnaryTimeout  time.Duration
	StreamTimeout time.Duration

	// HTTPClient overrides the REST client. Optional.
	HTTPClient *http.Client

	// DialOptions are appended to the gRPC dial options. Optional.
	DialOptions []grpc.DialOption
}

// New builds the client for cfg.Transport.
func New(cfg Config) (Client, error) {
	switch cfg.Transport {
	case TransportGRPC:
		return newRPCClient(cfg)
	case TransportREST:
		return newRESTClient(cfg), nil
	default:
		return nil, fmt.Errorf("backend: unknown transport %q", cfg.Transport)
	}
}

// withTimeout derives a context bounded by d. A non-positive d only adds cancellation.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func checkFragment(chunk FileChunk) error {
	if len(chunk.ChunkData) > MaxFragmentSize {
		return &Error{
			Kind:    KindInternal,
			Service: ServiceB,
			Op:      "FileUpload",
			Detail:  fmt.Sprintf("fragment %d is %d bytes, limit is %d", chunk.ChunkIndex, len(chunk.ChunkData), MaxFragmentSize),
		}
	}
	return nil
}
