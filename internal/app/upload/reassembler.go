/*
Package upload reassembles files that clients send over the WebSocket in
numbered chunks and forwards them to service B.

Chunks are kept in arrival order and only sorted when the uploader asks to
finalize, so duplicates and out-of-order delivery are tolerated. Finalize is
the only path that talks to the backend, and it never holds the table lock
while doing so.
*/
package upload

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/logx"
)

// State is the lifecycle stage of an upload.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Metadata describes the file and who is sending it.
type Metadata struct {
	FileID           string
	Filename         string
	MimeType         string
	DeclaredSize     int64
	UploaderID       string
	UploaderUsername string
	RoomID           string
}

// Snapshot is a read-only view of one upload.
type Snapshot struct {
	Metadata
	State         State
	TotalChunks   int
	Received      int
	BytesReceived int64
	StartedAt     time.Time
	UpdatedAt     time.Time
	Err           string
}

// FileResult is what a successful Finalize hands back.
type FileResult struct {
	Metadata
	Data []byte
	Ack  backend.UploadAck
}

// Streamer is the part of backend.Client the reassembler needs.
type Streamer interface {
	CallClientStream(ctx context.Context, chunks iter.Seq[backend.FileChunk]) (backend.UploadAck, error)
}

type notFoundError struct{}

func (notFoundError) Error() string { return "upload: file id not found" }
func (notFoundError) ErrorCode() int { return errs.ErrUploadNotFound }

// ErrUploadNotFound is returned by Finalize for ids with no active upload.
var ErrUploadNotFound error = notFoundError{}

// ForwardError wraps a failed hand-off to service B.
type ForwardError struct {
	FileID string
	Err    error
}

func (e *ForwardError) Error() string { return fmt.Sprintf("upload %s: forward: %v", e.FileID, e.Err) }
func (e *ForwardError) Unwrap() error { return e.Err }
func (e *ForwardError) ErrorCode() int { return errs.ErrUploadForwardFailed }

type chunk struct {
	index int
	data  []byte
}

type session struct {
	meta        Metadata
	chunks      []chunk
	totalChunks int
	bytes       int64
	state       State
	startedAt   time.Time
	updatedAt   time.Time
	err         error
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		Metadata:      s.meta,
		State:         s.state,
		TotalChunks:   s.totalChunks,
		Received:      len(s.chunks),
		BytesReceived: s.bytes,
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,
	}
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	return snap
}

// assemble orders chunks by index, keeping arrival order between equal
// indexes, and concatenates them.
func (s *session) assemble() []byte {
	ordered := slices.Clone(s.chunks)
	slices.SortStableFunc(ordered, func(a, b chunk) int { return cmp.Compare(a.index, b.index) })

	var buf bytes.Buffer
	buf.Grow(int(s.bytes))
	for _, c := range ordered {
		buf.Write(c.data)
	}
	return buf.Bytes()
}

// Reassembler owns every in-progress upload.
type Reassembler struct {
	mu     sync.Mutex
	active map[string]*session
	failed map[string]*session

	streamer     Streamer
	fragmentSize int
	maxBytes     int64
	now          func() time.Time
	logger       zerolog.Logger
}

// NewReassembler returns a reassembler forwarding to streamer. maxBytes caps
// the bytes accepted per upload; zero means no cap.
func NewReassembler(streamer Streamer, maxBytes int64) *Reassembler {
	return &Reassembler{
		active:       make(map[string]*session),
		failed:       make(map[string]*session),
		streamer:     streamer,
		fragmentSize: backend.MaxFragmentSize,
		maxBytes:     maxBytes,
		now:          time.Now,
		logger:       logx.Component("upload"),
	}
}

// Start opens an upload for meta.FileID, replacing any earlier upload with
// the same id.
func (r *Reassembler) Start(meta Metadata) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, replaced := r.active[meta.FileID]; replaced {
		r.logger.Debug().Str("file_id", meta.FileID).Msg("restarting upload")
	}
	delete(r.failed, meta.FileID)

	r.active[meta.FileID] = &session{
		meta:      meta,
		state:     StateInProgress,
		startedAt: now,
		updatedAt: now,
	}
}

// AddChunk appends a chunk to an in-progress upload. It returns false when
// no such upload exists or the chunk would push it past the size cap.
// The latest totalChunks wins.
func (r *Reassembler) AddChunk(fileID string, index int, data []byte, totalChunks int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.active[fileID]
	if !ok {
		return false
	}

	if r.maxBytes > 0 && s.bytes+int64(len(data)) > r.maxBytes {
		r.logger.Warn().
			Str("file_id", fileID).
			Int64("limit", r.maxBytes).
			Msg("chunk dropped: upload exceeds size limit")
		return false
	}

	s.chunks = append(s.chunks, chunk{index: index, data: data})
	s.bytes += int64(len(data))
	s.totalChunks = totalChunks
	s.updatedAt = r.now()
	return true
}

// Finalize closes the upload, forwards the reassembled file to service B and
// returns it. The upload leaves the active table before the backend call, so
// a second Finalize for the same id gets ErrUploadNotFound. A failed upload
// stays visible through Inspect.
func (r *Reassembler) Finalize(ctx context.Context, fileID string) (*FileResult, error) {
	return r.finalize(ctx, fileID, func(Metadata) bool { return true })
}

// FinalizeAs is Finalize for an upload started by uploaderID in roomID. Any
// other caller gets ErrUploadNotFound and the upload is left untouched.
func (r *Reassembler) FinalizeAs(ctx context.Context, fileID, uploaderID, roomID string) (*FileResult, error) {
	return r.finalize(ctx, fileID, func(m Metadata) bool {
		return m.UploaderID == uploaderID && m.RoomID == roomID
	})
}

func (r *Reassembler) finalize(ctx context.Context, fileID string, owns func(Metadata) bool) (*FileResult, error) {
	r.mu.Lock()
	s, ok := r.active[fileID]
	if ok && !owns(s.meta) {
		r.logger.Warn().Str("file_id", fileID).Msg("finalize refused: caller does not own upload")
		ok = false
	}
	if ok {
		delete(r.active, fileID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, ErrUploadNotFound
	}

	data := s.assemble()
	if s.totalChunks > 0 && len(s.chunks) < s.totalChunks {
		r.logger.Warn().
			Str("file_id", fileID).
			Int("received", len(s.chunks)).
			Int("total_chunks", s.totalChunks).
			Msg("finalizing upload with missing chunks")
	}

	ack, err := r.streamer.CallClientStream(ctx, Fragments(s.meta, data, r.fragmentSize))
	if err == nil && !ack.Success {
		err = fmt.Errorf("rejected by service B: %s", ack.Message)
	}

	if err != nil {
		ferr := &ForwardError{FileID: fileID, Err: err}
		r.mu.Lock()
		s.state = StateError
		s.err = ferr
		s.updatedAt = r.now()
		r.failed[fileID] = s
		r.mu.Unlock()
		return nil, ferr
	}

	r.mu.Lock()
	s.state = StateCompleted
	s.updatedAt = r.now()
	r.mu.Unlock()

	r.logger.Info().
		Str("file_id", fileID).
		Int("bytes", len(data)).
		Int64("bytes_acknowledged", ack.BytesReceived).
		Msg("upload forwarded")

	return &FileResult{Metadata: s.meta, Data: data, Ack: ack}, nil
}

// Inspect returns a snapshot of an active or failed upload.
func (r *Reassembler) Inspect(fileID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.active[fileID]; ok {
		return s.snapshot(), true
	}
	if s, ok := r.failed[fileID]; ok {
		return s.snapshot(), true
	}
	return Snapshot{}, false
}

// Sweep drops in-progress uploads idle for longer than maxAge and failed
// uploads older than maxAge. It returns how many were dropped.
func (r *Reassembler) Sweep(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for _, table := range []map[string]*session{r.active, r.failed} {
		for id, s := range table {
			if s.updatedAt.Before(cutoff) {
				delete(table, id)
				dropped++
			}
		}
	}
	return dropped
}

// RunJanitor calls Sweep every interval until ctx is done.
func (r *Reassembler) RunJanitor(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(maxAge); n > 0 {
				r.logger.Info().Int("dropped", n).Msg("expired stale uploads")
			}
		}
	}
}

// Split cuts data into pieces of at most size bytes. Empty data yields one
// empty piece so a zero-byte file still produces a frame.
func Split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}

	pieces := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		pieces = append(pieces, data[start:end])
	}
	return pieces
}

// Fragments yields the upstream chunks for a reassembled file.
func Fragments(meta Metadata, data []byte, size int) iter.Seq[backend.FileChunk] {
	return func(yield func(backend.FileChunk) bool) {
		pieces := Split(data, size)
		for i, p := range pieces {
			fc := backend.FileChunk{
				FileID:      meta.FileID,
				Filename:    meta.Filename,
				MimeType:    meta.MimeType,
				ChunkData:   p,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
				FileSize:    int64(len(data)),
				UserID:      meta.UploaderID,
				Username:    meta.UploaderUsername,
				RoomID:      meta.RoomID,
			}
			if !yield(fc) {
				return
			}
		}
	}
}
