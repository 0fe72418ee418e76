/*
Package chat contains the room hub and the per-connection gateway sessions.

This file defines the Session, one per live WebSocket connection. A session
runs three goroutines: ReadPump reads frames off the socket, dispatch handles
them in order, and WritePump drains the send queue and keeps the heartbeat.
When the socket goes away the session context is cancelled, which aborts any
backend call still in flight for that connection.
*/
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/app/upload"
	"rtgateway/internal/app/user"
	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// capacity of the per-connection outbound queue.
	sendBufferSize = 256

	// capacity of the queue between the reader and the dispatcher.
	inboundBufferSize = 16

	// DefaultMaxFrameBytes is the read limit used when none is configured.
	DefaultMaxFrameBytes = 2 << 20

	// MaxContentBytes is the maximum allowed size (in bytes) of a chat message.
	MaxContentBytes = 5000

	// RedistributionChunkSize is the slice size of FILE_CHUNK frames sent to the room.
	RedistributionChunkSize = 512 << 10
)

var errSessionClosed = errors.New("chat: session closed")

// State is a session's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Processor runs chat content through Service A.
type Processor interface {
	CallUnary(ctx context.Context, req backend.UnaryRequest) (backend.UnaryResult, error)
}

// Uploads is the part of the reassembler a session drives.
type Uploads interface {
	Start(meta upload.Metadata)
	AddChunk(fileID string, index int, data []byte, totalChunks int) bool
	FinalizeAs(ctx context.Context, fileID, uploaderID, roomID string) (*upload.FileResult, error)
}

// GatewayConfig wires a Gateway to its collaborators.
type GatewayConfig struct {
	Hub       *Hub
	Processor Processor
	Uploads   Uploads
	Observer  Observer

	// Operation is sent to Service A with every chat message.
	Operation string

	MaxFrameBytes  int64
	MaxUploadBytes int64
	SendTimeout    time.Duration
}

// Gateway turns upgraded WebSocket connections into room sessions.
type Gateway struct {
	hub            *Hub
	processor      Processor
	uploads        Uploads
	observer       Observer
	operation      string
	maxFrameBytes  int64
	maxUploadBytes int64
	sendTimeout    time.Duration
	chunkSize      int
	now            func() time.Time
}

// NewGateway builds a gateway from cfg, filling in defaults.
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		hub:            cfg.Hub,
		processor:      cfg.Processor,
		uploads:        cfg.Uploads,
		observer:       cfg.Observer,
		operation:      cfg.Operation,
		maxFrameBytes:  cfg.MaxFrameBytes,
		maxUploadBytes: cfg.MaxUploadBytes,
		sendTimeout:    cfg.SendTimeout,
		chunkSize:      RedistributionChunkSize,
		now:            time.Now,
	}
	if g.observer == nil {
		g.observer = nopObserver{}
	}
	if g.maxFrameBytes <= 0 {
		g.maxFrameBytes = DefaultMaxFrameBytes
	}
	if g.sendTimeout <= 0 {
		g.sendTimeout = DefaultSendTimeout
	}
	return g
}

// Hub returns the hub sessions join.
func (g *Gateway) Hub() *Hub { return g.hub }

// Serve runs a session for conn until the connection ends. ctx bounds the
// session's backend calls.
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, u user.User, roomID string) {
	s := newSession(ctx, g, conn, u, roomID)

	g.observer.ConnectionOpened()
	defer g.observer.ConnectionClosed()

	go s.WritePump()

	presence := Presence{
		UserID:   u.ID,
		Username: u.Username,
		Status:   StatusOnline,
		JoinedAt: millis(g.now()),
	}
	if err := g.hub.Join(roomID, s.ID, presence, s); err != nil {
		s.logger.Warn().Err(err).Msg("join failed")
		s.cancel()
		s.Close()
		return
	}
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined))

	frames := make(chan []byte, inboundBufferSize)
	dispatched := make(chan struct{})
	go s.dispatch(frames, dispatched)

	s.ReadPump(frames)

	s.cancel()
	<-dispatched
	s.leave()
}

// Session is one live connection. It implements Sink.
type Session struct {
	ID     string
	RoomID string
	User   user.User

	gw   *Gateway
	conn *websocket.Conn

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// uploads refused at chunk 0; only the dispatch goroutine touches it.
	refused map[string]struct{}

	// closed once the session stops accepting frames.
	done      chan struct{}
	closeOnce sync.Once

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func newSession(parent context.Context, gw *Gateway, conn *websocket.Conn, u user.User, roomID string) *Session {
	id := randx.ConnectionID()
	ctx, cancel := context.WithCancel(parent)

	return &Session{
		ID:      id,
		RoomID:  roomID,
		User:    u,
		gw:      gw,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		refused: make(map[string]struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger: logx.Logger().With().
			Str("conn_id", id).
			Str("room_id", roomID).
			Str("user_id", u.ID).
			Logger(),
	}
}

// State reports where the session is in its lifecycle.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Send queues frame for the writer. It fails once the session is closed or
// when ctx ends before the queue has room.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the session. The writer sends a close frame and drops the
// socket, which in turn ends the reader.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// ReadPump reads frames off the socket and hands them to the dispatcher
// until the connection fails, the client closes it, or a frame exceeds the
// read limit.
func (s *Session) ReadPump(frames chan<- []byte) {
	defer close(frames)

	s.conn.SetReadLimit(s.gw.maxFrameBytes)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		select {
		case frames <- data:
		case <-s.done:
			return
		}
	}
}

// WritePump writes queued frames and periodic pings to the socket.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		s.Close()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}

		case <-s.done:
			s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// write sends one message under the write deadline. It returns false when
// the writer should stop.
func (s *Session) write(messageType int, data []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := s.conn.WriteMessage(messageType, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug().Err(err).Int("message_type", messageType).Msg("Write failed")
		}
		return false
	}
	return true
}

func (s *Session) dispatch(frames <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for data := range frames {
		s.processInboundFrame(data)
	}
}

// leave removes the session from its room and tells the others.
func (s *Session) leave() {
	s.Close()

	p, ok := s.gw.hub.Leave(s.RoomID, s.ID)
	if !ok {
		return
	}
	s.gw.hub.Broadcast(s.RoomID, presenceEvent(TypeUserLeave, s.RoomID, p, s.gw.now()), s.ID)
}

// processInboundFrame handles one raw frame from the client.
func (s *Session) processInboundFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Client sent invalid JSON")
		s.sendError(errs.NewError(errs.ErrInvalidFrame))
		return
	}

	switch frame.Type {
	case TypeMessage:
		s.gw.observer.FrameReceived(string(frame.Type))
		s.handleMessage(frame)

	case TypeFileChunk:
		s.gw.observer.FrameReceived(string(frame.Type))
		s.handleFileChunk(frame)

	case TypeFileShare:
		s.gw.observer.FrameReceived(string(frame.Type))
		s.handleFileShare(frame)

	default:
		s.gw.observer.FrameReceived("unknown")
		s.logger.Debug().Str("msg_type", string(frame.Type)).Msg("Ignoring unsupported frame type")
	}
}

// handleMessage runs the content through Service A and shares the result
// with the rest of the room. A failed call degrades to the original content.
func (s *Session) handleMessage(frame inboundFrame) {
	if strings.TrimSpace(frame.Content) == "" {
		return
	}
	if len(frame.Content) > MaxContentBytes {
		s.sendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	msgID := randx.MessageID()
	res, err := s.gw.processor.CallUnary(s.ctx, backend.UnaryRequest{
		ID:        msgID,
		Data:      frame.Content,
		Operation: s.gw.operation,
	})
	if s.ctx.Err() != nil {
		s.logger.Debug().Str("message_id", msgID).Msg("Discarding message from closed session")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", msgID).Msg("Service A failed, delivering original content")
	}

	event := ProcessedMessage(LocalMessage(s.RoomID, s.User.ID, s.User.Username, frame.Content, s.gw.now()), res, err)
	event.MessageID = msgID

	s.gw.hub.Publish(s.RoomID, event, s.ID)
}

// ProcessedMessage applies a Service A outcome to a local message. Any error
// or an error status keeps the original content and marks it unprocessed.
func ProcessedMessage(local Event, res backend.UnaryResult, err error) Event {
	if err != nil || res.StatusCode >= 400 {
		local.Content = local.OriginalContent
		local.Processed = false
		local.ProcessedBy = ProcessedByGateway
		return local
	}

	local.Content = res.Result
	local.Processed = true
	local.ProcessedBy = string(backend.ServiceA)
	return local
}

func (s *Session) handleFileChunk(frame inboundFrame) {
	if frame.FileID == "" {
		s.sendError(errs.NewError(errs.ErrFileIDMissing))
		return
	}

	data, err := base64.StdEncoding.DecodeString(frame.ChunkData)
	if err != nil {
		s.logger.Warn().Err(err).Str("file_id", frame.FileID).Msg("Client sent invalid chunk data")
		s.sendError(errs.NewError(errs.ErrChunkDataInvalid))
		return
	}

	if frame.ChunkIndex == 0 {
		if s.gw.maxUploadBytes > 0 && frame.FileSize > s.gw.maxUploadBytes {
			s.logger.Warn().
				Str("file_id", frame.FileID).
				Int64("file_size", frame.FileSize).
				Int64("limit", s.gw.maxUploadBytes).
				Msg("Upload refused: declared size over limit")
			s.refused[frame.FileID] = struct{}{}
			s.sendError(errs.NewError(errs.ErrFileSizeTooLarge, s.gw.maxUploadBytes))
			return
		}
		delete(s.refused, frame.FileID)
		s.gw.uploads.Start(upload.Metadata{
			FileID:           frame.FileID,
			Filename:         frame.Filename,
			MimeType:         frame.MimeType,
			DeclaredSize:     frame.FileSize,
			UploaderID:       s.User.ID,
			UploaderUsername: s.User.Username,
			RoomID:           s.RoomID,
		})
	}

	if _, ok := s.refused[frame.FileID]; ok {
		return
	}
	if !s.gw.uploads.AddChunk(frame.FileID, frame.ChunkIndex, data, frame.TotalChunks) {
		s.logger.Warn().
			Str("file_id", frame.FileID).
			Int("chunk_index", frame.ChunkIndex).
			Msg("Chunk dropped: no open upload or size limit reached")
	}
}

// handleFileShare finalizes an upload, announces it to the room and
// redistributes its bytes as transient FILE_CHUNK frames.
func (s *Session) handleFileShare(frame inboundFrame) {
	res, err := s.gw.uploads.FinalizeAs(s.ctx, frame.FileID, s.User.ID, s.RoomID)
	s.gw.observer.UploadFinalized(err == nil)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Str("file_id", frame.FileID).Msg("Upload finalize failed")
		s.sendError(errs.FromError(err))
		return
	}

	now := s.gw.now()
	share := Event{
		Type:      TypeFileShare,
		MessageID: randx.MessageID(),
		RoomID:    res.RoomID,
		UserID:    res.UploaderID,
		Username:  res.UploaderUsername,
		FileID:    res.FileID,
		Filename:  res.Filename,
		MimeType:  res.MimeType,
		FileSize:  int64(len(res.Data)),
		Timestamp: millis(now),
	}
	s.gw.hub.Publish(res.RoomID, share, "")

	for chunk := range Redistribute(share, res.Data, s.gw.chunkSize) {
		s.gw.hub.Broadcast(res.RoomID, chunk, "")
	}
}

// Redistribute yields the FILE_CHUNK frames that carry data to the room.
func Redistribute(share Event, data []byte, size int) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		pieces := upload.Split(data, size)
		for i, p := range pieces {
			chunk := share
			chunk.Type = TypeFileChunk
			chunk.MessageID = ""
			chunk.ChunkIndex = i
			chunk.TotalChunks = len(pieces)
			chunk.ChunkData = p
			if !yield(chunk) {
				return
			}
		}
	}
}

// sendError queues a private SYSTEM frame for this connection.
func (s *Session) sendError(ce *errs.CustomError) {
	frame, err := json.Marshal(SystemEvent(s.RoomID, ce.Code, ce.Message, s.gw.now()))
	if err != nil {
		s.logger.Error().Err(err).Msg("Error marshaling system frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gw.sendTimeout)
	defer cancel()

	if err := s.Send(ctx, frame); err != nil {
		s.logger.Warn().Err(err).Int("code", ce.Code).Msg("Failed to queue system frame")
	}
}
