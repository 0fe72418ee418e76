package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/app/upload"
	"rtgateway/internal/app/user"
	"rtgateway/internal/pkg/errs"
)

type processorFunc func(ctx context.Context, req backend.UnaryRequest) (backend.UnaryResult, error)

func (f processorFunc) CallUnary(ctx context.Context, req backend.UnaryRequest) (backend.UnaryResult, error) {
	return f(ctx, req)
}

type streamerFunc func(ctx context.Context, chunks iter.Seq[backend.FileChunk]) (backend.UploadAck, error)

func (f streamerFunc) CallClientStream(ctx context.Context, chunks iter.Seq[backend.FileChunk]) (backend.UploadAck, error) {
	return f(ctx, chunks)
}

func upper(_ context.Context, req backend.UnaryRequest) (backend.UnaryResult, error) {
	return backend.UnaryResult{ID: req.ID, Result: strings.ToUpper(req.Data), StatusCode: 200}, nil
}

func acceptAll(_ context.Context, chunks iter.Seq[backend.FileChunk]) (backend.UploadAck, error) {
	var n int64
	for c := range chunks {
		n += int64(len(c.ChunkData))
	}
	return backend.UploadAck{Success: true, BytesReceived: n}, nil
}

func newTestGateway(t *testing.T, p Processor, s upload.Streamer, opts ...func(*Gateway)) (*Gateway, *httptest.Server) {
	t.Helper()

	hub := NewHub(time.Second, nil)
	gw := NewGateway(GatewayConfig{
		Hub:            hub,
		Processor:      p,
		Uploads:        upload.NewReassembler(s, 0),
		Operation:      "process_message",
		MaxFrameBytes:  64 << 10,
		MaxUploadBytes: 1 << 20,
	})
	for _, opt := range opts {
		opt(gw)
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		name := r.URL.Query().Get("username")
		gw.Serve(context.Background(), conn, user.User{ID: "u-" + name, Username: name}, r.URL.Query().Get("room"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)
	return gw, srv
}

func dial(t *testing.T, srv *httptest.Server, room, name string) *websocket.Conn {
	t.Helper()

	q := url.Values{"room": {room}, "username": {name}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?"+q.Encode(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want EventType) Event {
	t.Helper()
	for {
		if e := readEvent(t, conn); e.Type == want {
			return e
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestAliceAndBob(t *testing.T) {
	gw, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	roster := readEvent(t, alice)
	require.Equal(t, TypeOnlineUsers, roster.Type)
	assert.Empty(t, roster.Users)

	send(t, alice, map[string]any{"type": "MESSAGE", "content": "hi"})
	require.Eventually(t, func() bool { return len(gw.Hub().History("g", 0)) == 1 }, 3*time.Second, 10*time.Millisecond)

	bob := dial(t, srv, "g", "bob")

	first := readEvent(t, bob)
	require.Equal(t, TypeOnlineUsers, first.Type)
	require.Len(t, first.Users, 1)
	assert.Equal(t, "alice", first.Users[0].Username)

	second := readEvent(t, bob)
	require.Equal(t, TypeMessage, second.Type)
	assert.Equal(t, "HI", second.Content)
	assert.Equal(t, "hi", second.OriginalContent)
	assert.True(t, second.Processed)
	assert.Equal(t, "alice", second.Username)

	joined := readEvent(t, alice)
	assert.Equal(t, TypeUserJoin, joined.Type)
	assert.Equal(t, "bob", joined.Username)

	require.NoError(t, bob.Close())
	left := readEvent(t, alice)
	assert.Equal(t, TypeUserLeave, left.Type)
	assert.Equal(t, "bob", left.Username)

	require.Eventually(t, func() bool { return len(gw.Hub().Roster("g")) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestMessageFallsBackWhenServiceAFails(t *testing.T) {
	failing := processorFunc(func(context.Context, backend.UnaryRequest) (backend.UnaryResult, error) {
		return backend.UnaryResult{}, &backend.Error{Kind: backend.KindBackendUnavailable, Service: backend.ServiceA, Detail: "down"}
	})
	_, srv := newTestGateway(t, failing, streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)
	bob := dial(t, srv, "g", "bob")
	readEvent(t, bob)

	send(t, alice, map[string]any{"type": "MESSAGE", "content": "hello"})

	got := readUntil(t, bob, TypeMessage)
	assert.False(t, got.Processed)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, got.OriginalContent, got.Content)
	assert.Equal(t, ProcessedByGateway, got.ProcessedBy)
}

func TestProcessedMessage(t *testing.T) {
	local := LocalMessage("g", "u1", "alice", "hi", time.Now())

	ok := ProcessedMessage(local, backend.UnaryResult{Result: "HI", StatusCode: 200}, nil)
	assert.True(t, ok.Processed)
	assert.Equal(t, "HI", ok.Content)
	assert.Equal(t, string(backend.ServiceA), ok.ProcessedBy)

	rejected := ProcessedMessage(local, backend.UnaryResult{Result: "nope", StatusCode: 500}, nil)
	assert.False(t, rejected.Processed)
	assert.Equal(t, "hi", rejected.Content)

	failed := ProcessedMessage(local, backend.UnaryResult{}, errors.New("boom"))
	assert.False(t, failed.Processed)
	assert.Equal(t, "hi", failed.Content)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	gw, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{nope")))
	sys := readEvent(t, alice)
	assert.Equal(t, TypeSystem, sys.Type)
	assert.Equal(t, errs.ErrInvalidFrame, sys.Code)

	send(t, alice, map[string]any{"type": "TYPING"})
	send(t, alice, map[string]any{"type": "FILE_CHUNK", "file_id": "f1", "chunk_index": 0, "chunk_data": "%%%"})
	sys = readEvent(t, alice)
	assert.Equal(t, errs.ErrChunkDataInvalid, sys.Code)

	send(t, alice, map[string]any{"type": "MESSAGE", "content": "still here"})
	require.Eventually(t, func() bool { return len(gw.Hub().History("g", 0)) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestOversizedFrameEndsSession(t *testing.T) {
	gw, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)

	// the server may drop the socket before the write completes
	_ = alice.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 128<<10)))
	require.Eventually(t, func() bool { return len(gw.Hub().Roster("g")) == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestFileUploadIsRedistributed(t *testing.T) {
	gw, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll), func(g *Gateway) { g.chunkSize = 4 })

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)
	bob := dial(t, srv, "g", "bob")
	readEvent(t, bob)

	parts := []string{"hello ", "world"}
	for i, p := range parts {
		send(t, alice, map[string]any{
			"type":         "FILE_CHUNK",
			"file_id":      "f1",
			"filename":     "greeting.txt",
			"mime_type":    "text/plain",
			"file_size":    11,
			"chunk_index":  i,
			"total_chunks": len(parts),
			"chunk_data":   base64.StdEncoding.EncodeToString([]byte(p)),
		})
	}
	send(t, alice, map[string]any{"type": "FILE_SHARE", "file_id": "f1"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		share := readUntil(t, conn, TypeFileShare)
		assert.Equal(t, "greeting.txt", share.Filename)
		assert.Equal(t, int64(11), share.FileSize)
		assert.Equal(t, "alice", share.Username)

		var data []byte
		for {
			chunk := readEvent(t, conn)
			require.Equal(t, TypeFileChunk, chunk.Type)
			assert.Equal(t, 3, chunk.TotalChunks)
			data = append(data, chunk.ChunkData...)
			if chunk.ChunkIndex == chunk.TotalChunks-1 {
				break
			}
		}
		assert.Equal(t, "hello world", string(data))
	}

	history := gw.Hub().History("g", 0)
	require.Len(t, history, 1)
	assert.Equal(t, TypeFileShare, history[0].Type)
}

func TestFileShareFailureIsPrivate(t *testing.T) {
	_, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)

	send(t, alice, map[string]any{"type": "FILE_SHARE", "file_id": "ghost"})
	sys := readEvent(t, alice)
	assert.Equal(t, TypeSystem, sys.Type)
	assert.Equal(t, errs.ErrUploadNotFound, sys.Code)
}

func TestUploadAboveCapIsRefused(t *testing.T) {
	_, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)

	send(t, alice, map[string]any{"type": "FILE_CHUNK", "file_id": "big", "chunk_index": 0, "file_size": 2 << 20, "chunk_data": ""})
	sys := readEvent(t, alice)
	assert.Equal(t, errs.ErrFileSizeTooLarge, sys.Code)

	// Later chunks of the refused upload are dropped without more errors.
	for i := 1; i < 3; i++ {
		send(t, alice, map[string]any{"type": "FILE_CHUNK", "file_id": "big", "chunk_index": i, "chunk_data": "aGk="})
	}
	send(t, alice, map[string]any{"type": "FILE_SHARE", "file_id": "big"})
	sys = readEvent(t, alice)
	assert.Equal(t, TypeSystem, sys.Type)
	assert.Equal(t, errs.ErrUploadNotFound, sys.Code)
}

func TestFileShareOnlyByUploaderInItsRoom(t *testing.T) {
	gw, srv := newTestGateway(t, processorFunc(upper), streamerFunc(acceptAll))

	alice := dial(t, srv, "x", "alice")
	readEvent(t, alice)
	mallory := dial(t, srv, "y", "mallory")
	readEvent(t, mallory)

	send(t, alice, map[string]any{
		"type":         "FILE_CHUNK",
		"file_id":      "f1",
		"filename":     "secret.txt",
		"file_size":    6,
		"chunk_index":  0,
		"total_chunks": 1,
		"chunk_data":   base64.StdEncoding.EncodeToString([]byte("secret")),
	})

	send(t, mallory, map[string]any{"type": "FILE_SHARE", "file_id": "f1"})
	sys := readEvent(t, mallory)
	assert.Equal(t, TypeSystem, sys.Type)
	assert.Equal(t, errs.ErrUploadNotFound, sys.Code)
	assert.Empty(t, gw.Hub().History("y", 0))

	send(t, alice, map[string]any{"type": "FILE_SHARE", "file_id": "f1"})
	share := readUntil(t, alice, TypeFileShare)
	assert.Equal(t, "x", share.RoomID)
	assert.Equal(t, "alice", share.Username)
	chunk := readEvent(t, alice)
	assert.Equal(t, "secret", string(chunk.ChunkData))

	require.Len(t, gw.Hub().History("x", 0), 1)
	assert.Empty(t, gw.Hub().History("y", 0))
}

func TestClosingCancelsInFlightCall(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	blocking := processorFunc(func(ctx context.Context, _ backend.UnaryRequest) (backend.UnaryResult, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return backend.UnaryResult{}, ctx.Err()
	})
	gw, srv := newTestGateway(t, blocking, streamerFunc(acceptAll))

	alice := dial(t, srv, "g", "alice")
	readEvent(t, alice)
	send(t, alice, map[string]any{"type": "MESSAGE", "content": "slow"})

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("backend call never started")
	}
	require.NoError(t, alice.Close())

	select {
	case <-cancelled:
	case <-time.After(3 * time.Second):
		t.Fatal("backend call was not cancelled")
	}
	assert.Empty(t, gw.Hub().History("g", 0))
}
