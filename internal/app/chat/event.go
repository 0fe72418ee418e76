/*
Package chat contains the room hub and the per-connection gateway sessions.

This file defines the events exchanged with WebSocket clients. An Event is a
flat record; its wire shape depends on its type and is produced by MarshalJSON.
*/
package chat

import (
	"time"

	"github.com/goccy/go-json"

	"rtgateway/internal/pkg/randx"
)

// EventType is the "type" discriminator of every frame.
type EventType string

const (
	TypeUserJoin    EventType = "USER_JOIN"
	TypeUserLeave   EventType = "USER_LEAVE"
	TypeMessage     EventType = "MESSAGE"
	TypeFileShare   EventType = "FILE_SHARE"
	TypeFileChunk   EventType = "FILE_CHUNK"
	TypeOnlineUsers EventType = "ONLINE_USERS"
	TypeSystem      EventType = "SYSTEM"
)

// StatusOnline is the only presence status.
const StatusOnline = "ONLINE"

// ProcessedByGateway marks a message that Service A did not process.
const ProcessedByGateway = "gateway"

// Presence is one connection's membership record in a room.
type Presence struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
	JoinedAt int64  `json:"joined_at"`
}

// Event is a chat event. Timestamps are unix milliseconds.
type Event struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Timestamp int64     `json:"timestamp"`

	// MESSAGE and SYSTEM
	Content         string `json:"content,omitempty"`
	OriginalContent string `json:"original_content,omitempty"`
	ProcessedBy     string `json:"processed_by,omitempty"`
	Processed       bool   `json:"processed_by_module_a,omitempty"`
	Code            int    `json:"code,omitempty"`

	// USER_JOIN and USER_LEAVE
	Notice string `json:"message,omitempty"`

	// FILE_SHARE and FILE_CHUNK
	FileID      string `json:"file_id,omitempty"`
	Filename    string `json:"filename,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	ChunkData   []byte `json:"chunk_data,omitempty"`

	// ONLINE_USERS
	Users      []Presence `json:"users,omitempty"`
	TotalCount int        `json:"total_count,omitempty"`
}

// MarshalJSON writes the frame shape of e's type. Fields that are meaningful
// for the type are always present, even when zero.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeUserJoin, TypeUserLeave:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			RoomID    string    `json:"room_id"`
			UserID    string    `json:"user_id"`
			Username  string    `json:"username"`
			Message   string    `json:"message"`
			Timestamp int64     `json:"timestamp"`
		}{e.Type, e.RoomID, e.UserID, e.Username, e.Notice, e.Timestamp})

	case TypeMessage:
		return json.Marshal(struct {
			Type            EventType `json:"type"`
			MessageID       string    `json:"message_id"`
			RoomID          string    `json:"room_id"`
			UserID          string    `json:"user_id"`
			Username        string    `json:"username"`
			Content         string    `json:"content"`
			OriginalContent string    `json:"original_content"`
			ProcessedBy     string    `json:"processed_by"`
			Processed       bool      `json:"processed_by_module_a"`
			Timestamp       int64     `json:"timestamp"`
		}{e.Type, e.MessageID, e.RoomID, e.UserID, e.Username, e.Content, e.OriginalContent, e.ProcessedBy, e.Processed, e.Timestamp})

	case TypeFileShare:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			MessageID string    `json:"message_id"`
			RoomID    string    `json:"room_id"`
			UserID    string    `json:"user_id"`
			Username  string    `json:"username"`
			FileID    string    `json:"file_id"`
			Filename  string    `json:"filename"`
			MimeType  string    `json:"mime_type"`
			FileSize  int64     `json:"file_size"`
			Timestamp int64     `json:"timestamp"`
		}{e.Type, e.MessageID, e.RoomID, e.UserID, e.Username, e.FileID, e.Filename, e.MimeType, e.FileSize, e.Timestamp})

	case TypeFileChunk:
		return json.Marshal(struct {
			Type        EventType `json:"type"`
			RoomID      string    `json:"room_id"`
			UserID      string    `json:"user_id"`
			Username    string    `json:"username"`
			FileID      string    `json:"file_id"`
			Filename    string    `json:"filename"`
			MimeType    string    `json:"mime_type"`
			FileSize    int64     `json:"file_size"`
			ChunkIndex  int       `json:"chunk_index"`
			TotalChunks int       `json:"total_chunks"`
			ChunkData   []byte    `json:"chunk_data"`
			Timestamp   int64     `json:"timestamp"`
		}{e.Type, e.RoomID, e.UserID, e.Username, e.FileID, e.Filename, e.MimeType, e.FileSize, e.ChunkIndex, e.TotalChunks, e.ChunkData, e.Timestamp})

	case TypeOnlineUsers:
		users := e.Users
		if users == nil {
			users = []Presence{}
		}
		return json.Marshal(struct {
			Type       EventType  `json:"type"`
			RoomID     string     `json:"room_id"`
			Users      []Presence `json:"users"`
			TotalCount int        `json:"total_count"`
			Timestamp  int64      `json:"timestamp"`
		}{e.Type, e.RoomID, users, e.TotalCount, e.Timestamp})

	case TypeSystem:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			RoomID    string    `json:"room_id,omitempty"`
			Content   string    `json:"content"`
			Code      int       `json:"code,omitempty"`
			Timestamp int64     `json:"timestamp"`
		}{e.Type, e.RoomID, e.Content, e.Code, e.Timestamp})
	}

	// alias drops the method set so unknown types fall back to the flat shape
	type alias Event
	return json.Marshal(alias(e))
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func presenceEvent(kind EventType, roomID string, p Presence, at time.Time) Event {
	verb := "joined"
	if kind == TypeUserLeave {
		verb = "left"
	}
	return Event{
		Type:      kind,
		RoomID:    roomID,
		UserID:    p.UserID,
		Username:  p.Username,
		Notice:    p.Username + " " + verb + " the room",
		Timestamp: millis(at),
	}
}

func rosterEvent(roomID string, users []Presence, at time.Time) Event {
	return Event{
		Type:       TypeOnlineUsers,
		RoomID:     roomID,
		Users:      users,
		TotalCount: len(users),
		Timestamp:  millis(at),
	}
}

// SystemEvent builds a private notice for one connection.
func SystemEvent(roomID string, code int, content string, at time.Time) Event {
	return Event{
		Type:      TypeSystem,
		RoomID:    roomID,
		Code:      code,
		Content:   content,
		Timestamp: millis(at),
	}
}

// LocalMessage builds a MESSAGE that did not go through Service A, as posted
// over REST or produced by the fallback path.
func LocalMessage(roomID, userID, username, content string, at time.Time) Event {
	return Event{
		Type:            TypeMessage,
		MessageID:       randx.MessageID(),
		RoomID:          roomID,
		UserID:          userID,
		Username:        username,
		Content:         content,
		OriginalContent: content,
		ProcessedBy:     ProcessedByGateway,
		Processed:       false,
		Timestamp:       millis(at),
	}
}

// inboundFrame is the union of the frames a client may send.
type inboundFrame struct {
	Type        EventType `json:"type"`
	Content     string    `json:"content"`
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	FileSize    int64     `json:"file_size"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	ChunkData   string    `json:"chunk_data"`
}
