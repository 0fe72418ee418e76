package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newRESTBackends(t *testing.T, uploaded chan<- []FileChunk) (Client, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /a/process", func(w http.ResponseWriter, r *http.Request) {
		var req UnaryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Data {
		case "explode":
			http.Error(w, "kaboom", http.StatusInternalServerError)
		case "garbage":
			_, _ = w.Write([]byte("{not json"))
		case "slow":
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		default:
			writeJSON(w, UnaryResult{ID: req.ID, Result: strings.ToUpper(req.Data), Message: "ok", StatusCode: 200})
		}
	})
	mux.HandleFunc("POST /a/users/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, LoginResult{Success: true, UserID: "u-" + req.Username, Username: req.Username})
	})
	mux.HandleFunc("POST /a/users/online", func(w http.ResponseWriter, r *http.Request) {
		var req onlineUsersRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, onlineUsersReply{
			Users:      []OnlineUser{{UserID: "u-1", Username: req.RoomID + "-member", Status: "online"}},
			TotalCount: 1,
		})
	})
	mux.HandleFunc("POST /b/stream", func(w http.ResponseWriter, r *http.Request) {
		var req StreamRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := streamReply{ID: req.ID}
		for i := 1; i <= req.Count; i++ {
			out.Results = append(out.Results, StreamResult{ID: req.ID, Result: req.Data, SequenceNumber: i, IsFinal: i == req.Count})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("POST /b/files/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != ndjsonContentType {
			http.Error(w, "want ndjson", http.StatusUnsupportedMediaType)
			return
		}
		var chunks []FileChunk
		var total int64
		dec := json.NewDecoder(r.Body)
		for {
			var c FileChunk
			err := dec.Decode(&c)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			chunks = append(chunks, c)
			total += int64(len(c.ChunkData))
		}
		if uploaded != nil {
			uploaded <- chunks
		}
		fileID := ""
		if len(chunks) > 0 {
			fileID = chunks[0].FileID
		}
		writeJSON(w, UploadAck{Success: true, FileID: fileID, BytesReceived: total})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Transport:     TransportREST,
		ServiceAURL:   srv.URL + "/a/",
		ServiceBURL:   srv.URL + "/b",
		UnaryTimeout:  300 * time.Millisecond,
		StreamTimeout: 5 * time.Second,
		HTTPClient:    srv.Client(),
	})
	require.NoError(t, err)
	return c, srv
}

func TestRESTUnary(t *testing.T) {
	c, _ := newRESTBackends(t, nil)

	res, err := c.CallUnary(context.Background(), UnaryRequest{ID: "m1", Data: "hi", Operation: "process_message"})
	require.NoError(t, err)
	assert.Equal(t, "HI", res.Result)
	assert.Equal(t, 200, res.StatusCode)
}

func TestRESTErrorsAreNormalized(t *testing.T) {
	c, _ := newRESTBackends(t, nil)

	_, err := c.CallUnary(context.Background(), UnaryRequest{ID: "m1", Data: "explode"})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindBackendUnavailable, be.Kind)
	assert.Contains(t, be.Detail, "HTTP 500")

	_, err = c.CallUnary(context.Background(), UnaryRequest{ID: "m2", Data: "garbage"})
	assert.True(t, IsKind(err, KindBackendUnavailable))

	_, err = c.CallUnary(context.Background(), UnaryRequest{ID: "m3", Data: "slow"})
	assert.True(t, IsKind(err, KindTimeout), "%v", err)
}

func TestRESTUnreachable(t *testing.T) {
	c, srv := newRESTBackends(t, nil)
	srv.Close()

	_, err := c.Login(context.Background(), LoginRequest{Username: "alice"})
	assert.True(t, IsKind(err, KindBackendUnavailable), "%v", err)
}

func TestRESTLoginAndOnlineUsers(t *testing.T) {
	c, _ := newRESTBackends(t, nil)

	login, err := c.Login(context.Background(), LoginRequest{Username: "alice", RoomID: "general"})
	require.NoError(t, err)
	assert.Equal(t, "u-alice", login.UserID)

	users, err := c.OnlineUsers(context.Background(), "general")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "general-member", users[0].Username)
}

func TestRESTServerStreamIsReplayed(t *testing.T) {
	c, _ := newRESTBackends(t, nil)

	s, err := c.CallServerStream(context.Background(), StreamRequest{ID: "s1", Data: "x", Count: 4})
	require.NoError(t, err)

	var seqs []int
	for s.Next() {
		seqs = append(seqs, s.Result().SequenceNumber)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []int{1, 2, 3, 4}, seqs)
}

func TestRESTClientStreamSendsNDJSON(t *testing.T) {
	uploaded := make(chan []FileChunk, 1)
	c, _ := newRESTBackends(t, uploaded)

	ack, err := c.CallClientStream(context.Background(), func(yield func(FileChunk) bool) {
		for i, part := range []string{"abc", "def", "g"} {
			if !yield(FileChunk{FileID: "f1", ChunkIndex: i, TotalChunks: 3, ChunkData: []byte(part), FileSize: 7}) {
				return
			}
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ack.BytesReceived)

	chunks := <-uploaded
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("def"), chunks[1].ChunkData)
	assert.Equal(t, 2, chunks[2].ChunkIndex)
}

func TestRESTClientStreamRejectsOversizedFragment(t *testing.T) {
	c, _ := newRESTBackends(t, nil)

	_, err := c.CallClientStream(context.Background(), func(yield func(FileChunk) bool) {
		if !yield(FileChunk{FileID: "ok", ChunkData: []byte("fine")}) {
			return
		}
		yield(FileChunk{FileID: "big", ChunkIndex: 1, ChunkData: make([]byte, MaxFragmentSize+1)})
	})
	assert.True(t, IsKind(err, KindInternal), "%v", err)
}
