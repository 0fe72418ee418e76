/*
Package chat contains the room hub and the per-connection gateway sessions.

This file defines the Hub, which owns every room. A room holds its live
connections, the paired presence records and a bounded history. Join, Leave,
Broadcast and StoreHistory on the same room are serialized by the room lock,
so a joiner's roster and history replay can never be overtaken by a broadcast.
*/
package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rtgateway/internal/pkg/logx"
)

const (
	// HistoryCapacity is the number of events a room keeps.
	HistoryCapacity = 1000

	// ReplayLimit is the number of history events replayed to a joiner.
	ReplayLimit = 50

	// DefaultSendTimeout bounds one broadcast when the hub is built without one.
	DefaultSendTimeout = 5 * time.Second

	// maximum number of concurrent sends during one broadcast.
	broadcastParallelism = 64
)

// ErrHubClosed is returned by Join after Shutdown.
var ErrHubClosed = errors.New("chat: hub is shut down")

// Sink is the hub's handle on a live connection.
type Sink interface {
	// Send queues one encoded frame. It must return once ctx is done.
	Send(ctx context.Context, frame []byte) error

	// Close tears the connection down without blocking.
	Close()
}

// Observer receives hub and session activity for metrics.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameReceived(kind string)
	EventBroadcast(kind string, recipients int)
	ConnectionsPruned(n int)
	UploadFinalized(ok bool)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed() {}
func (nopObserver) FrameReceived(string) {}
func (nopObserver) EventBroadcast(string, int) {}
func (nopObserver) ConnectionsPruned(int) {}
func (nopObserver) UploadFinalized(bool) {}

type member struct {
	Presence
	seq uint64
}

// Room is one broadcast domain. conns and members always hold the same keys.
type Room struct {
	ID string

	mu      sync.Mutex
	conns   map[string]Sink
	members map[string]member
	history *history
	joins   uint64
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		conns:   make(map[string]Sink),
		members: make(map[string]member),
		history: newHistory(HistoryCapacity),
	}
}

// roster lists presences in join order. Caller holds r.mu.
func (r *Room) roster() []Presence {
	ordered := make([]member, 0, len(r.members))
	for _, m := range r.members {
		ordered = append(ordered, m)
	}
	slices.SortFunc(ordered, func(a, b member) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]Presence, len(ordered))
	for i, m := range ordered {
		out[i] = m.Presence
	}
	return out
}

// remove drops a connection and its presence together. Caller holds r.mu.
func (r *Room) remove(connID string) (Presence, bool) {
	m, ok := r.members[connID]
	if !ok {
		return Presence{}, false
	}
	delete(r.members, connID)
	delete(r.conns, connID)
	return m.Presence, true
}

// Stats is a point-in-time count of the hub's contents.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Hub owns all rooms. Rooms are created on first use and never removed.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	sendTimeout time.Duration
	observer    Observer
	now         func() time.Time
	logger      zerolog.Logger
}

// NewHub creates a hub. sendTimeout bounds each broadcast; a nil observer
// discards activity.
func NewHub(sendTimeout time.Duration, observer Observer) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Hub{
		rooms:       make(map[string]*Room),
		sendTimeout: sendTimeout,
		observer:    observer,
		now:         time.Now,
		logger:      logx.Component("hub"),
	}
}

// room returns the room with id, creating it if needed.
func (h *Hub) room(id string) (*Room, error) {
	h.mu.RLock()
	r, ok := h.rooms[id]
	closed := h.closed
	h.mu.RUnlock()
	if ok {
		return r, nil
	}
	if closed {
		return nil, ErrHubClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if r, ok = h.rooms[id]; !ok {
		r = newRoom(id)
		h.rooms[id] = r
		h.logger.Debug().Str("room_id", id).Msg("room created")
	}
	return r, nil
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// lookup returns an existing room or nil.
func (h *Hub) lookup(id string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[id]
}

// Join registers a connection and its presence. Other members receive
// USER_JOIN; the joiner then receives ONLINE_USERS with the members present
// before it joined, followed by up to ReplayLimit history events, oldest
// first. If the joiner cannot be reached it is removed again and an error is
// returned.
func (h *Hub) Join(roomID, connID string, p Presence, sink Sink) error {
	r, err := h.room(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Checked under the room lock: Shutdown closes this room's sinks only
	// after it has set closed, so a joiner that gets past here is closed too.
	if h.isClosed() {
		return ErrHubClosed
	}

	roster := r.roster()
	r.joins++
	r.conns[connID] = sink
	r.members[connID] = member{Presence: p, seq: r.joins}

	now := h.now()
	h.broadcastLocked(r, presenceEvent(TypeUserJoin, roomID, p, now), connID)

	replay := append([]Event{rosterEvent(roomID, roster, now)}, r.history.last(ReplayLimit)...)
	for _, e := range replay {
		if err := h.deliver(sink, e); err != nil {
			r.remove(connID)
			h.broadcastLocked(r, presenceEvent(TypeUserLeave, roomID, p, h.now()), "")
			return fmt.Errorf("chat: replay to %s: %w", connID, err)
		}
	}

	h.logger.Info().
		Str("room_id", roomID).
		Str("conn_id", connID).
		Str("username", p.Username).
		Int("members", len(r.conns)).
		Msg("connection joined")
	return nil
}

// Leave removes a connection. It reports the removed presence, or false if
// the room or connection is unknown.
func (h *Hub) Leave(roomID, connID string) (Presence, bool) {
	r := h.lookup(roomID)
	if r == nil {
		return Presence{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.remove(connID)
	if ok {
		h.logger.Info().
			Str("room_id", roomID).
			Str("conn_id", connID).
			Int("members", len(r.conns)).
			Msg("connection left")
	}
	return p, ok
}

// Broadcast delivers e to every connection in the room except exclude.
// Connections that fail or time out are removed before it returns.
func (h *Hub) Broadcast(roomID string, e Event, exclude string) {
	r := h.lookup(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h.broadcastLocked(r, e, exclude)
}

// broadcastLocked delivers e and then announces USER_LEAVE for every
// connection pruned along the way, until a round prunes nobody.
// Caller holds r.mu.
func (h *Hub) broadcastLocked(r *Room, e Event, exclude string) {
	gone := h.fanOut(r, e, exclude)
	for len(gone) > 0 {
		p := gone[0]
		gone = append(gone[1:], h.fanOut(r, presenceEvent(TypeUserLeave, r.ID, p, h.now()), "")...)
	}
}

// fanOut sends e concurrently under one shared deadline and returns the
// presences of the connections it pruned. Caller holds r.mu.
func (h *Hub) fanOut(r *Room, e Event, exclude string) []Presence {
	type target struct {
		id   string
		sink Sink
	}

	targets := make([]target, 0, len(r.conns))
	for id, s := range r.conns {
		if id != exclude {
			targets = append(targets, target{id, s})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	frame, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(e.Type)).Msg("failed to encode event")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()

	results := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(broadcastParallelism)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = t.sink.Send(ctx, frame)
			return nil
		})
	}
	_ = g.Wait()

	var gone []Presence
	for i, t := range targets {
		if results[i] == nil {
			continue
		}
		h.logger.Warn().
			Err(results[i]).
			Str("room_id", r.ID).
			Str("conn_id", t.id).
			Msg("send failed, pruning connection")
		if p, ok := r.remove(t.id); ok {
			gone = append(gone, p)
		}
		t.sink.Close()
	}

	h.observer.EventBroadcast(string(e.Type), len(targets)-len(gone))
	if len(gone) > 0 {
		h.observer.ConnectionsPruned(len(gone))
	}
	return gone
}

// deliver sends one event to a single sink under the broadcast deadline.
func (h *Hub) deliver(sink Sink, e Event) error {
	frame, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()
	return sink.Send(ctx, frame)
}

// StoreHistory appends e to the room's history, evicting the oldest event
// past HistoryCapacity.
func (h *Hub) StoreHistory(roomID string, e Event) {
	r, err := h.room(roomID)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.history.push(e)
}

// Publish stores e and broadcasts it in one critical section, so a
// concurrent joiner sees it either in its replay or live, never both.
func (h *Hub) Publish(roomID string, e Event, exclude string) {
	r, err := h.room(roomID)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.history.push(e)
	h.broadcastLocked(r, e, exclude)
}

// Roster returns the room's presences in join order.
func (h *Hub) Roster(roomID string) []Presence {
	r := h.lookup(roomID)
	if r == nil {
		return []Presence{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.roster()
}

// History returns up to limit of the newest stored events, oldest first.
// A limit of zero or less returns the whole history.
func (h *Hub) History(roomID string, limit int) []Event {
	r := h.lookup(roomID)
	if r == nil {
		return []Event{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.history.last(limit)
}

// Stats counts rooms and live connections.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	s := Stats{Rooms: len(rooms)}
	for _, r := range rooms {
		r.mu.Lock()
		s.Connections += len(r.conns)
		r.mu.Unlock()
	}
	return s
}

// Shutdown closes every connection and refuses further joins. Histories are
// kept for readers until the process exits.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	closed := 0
	for _, r := range rooms {
		r.mu.Lock()
		for id, sink := range r.conns {
			r.remove(id)
			sink.Close()
			closed++
		}
		r.mu.Unlock()
	}

	h.logger.Info().Int("rooms", len(rooms)).Int("connections", closed).Msg("hub shut down")
}
