package chat

import (
	"encoding/json"
	"time"
)

type RoomType string

const (
	DirectRoom RoomType = "direct"
	GroupRoom  RoomType = "group"
)

// PendingMessage is what a client sends over the live connection. TempID is
// the client's correlation token and is echoed back untouched.
type PendingMessage struct {
	TempID json.Number `json:"tempId"`
	RoomID int64       `json:"roomId"`
	Text   string      `json:"text"`
}

type FileInfo struct {
	MessageID    int64  `json:"messageId"`
	MessageIndex int    `json:"messageIndex"`
	FileHash     string `json:"fileHash"`
	FileName     string `json:"fileName"`
}

// Message is a stored message hydrated with its sender's display fields.
// FromSelf and TempID depend on who is looking at it; see ViewFor.
type Message struct {
	ID           int64       `json:"id"`
	RoomID       int64       `json:"roomId"`
	SenderID     *int64      `json:"senderId,omitempty"`
	TempID       json.Number `json:"tempId,omitempty"`
	Username     string      `json:"username,omitempty"`
	ProfileImage string      `json:"profileImage,omitempty"`
	FromSelf     bool        `json:"fromSelf"`
	Text         string      `json:"text"`
	Created      int64       `json:"created"`
	Files        []FileInfo  `json:"files,omitempty"`
}

// SentBy reports whether userID authored m. System messages have no sender.
func (m Message) SentBy(userID int64) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// ViewFor returns the copy of m delivered to userID. Only the sender's copy
// keeps the TempID.
func (m Message) ViewFor(userID int64) Message {
	if !m.SentBy(userID) {
		return m.Shared()
	}
	m.FromSelf = true
	return m
}

// Shared returns the copy of m seen by anyone but its sender.
func (m Message) Shared() Message {
	m.FromSelf = false
	m.TempID = ""
	return m
}

type Room struct {
	ID         int64    `json:"id"`
	Type       RoomType `json:"type"`
	Name       string   `json:"name,omitempty"`
	CoverImage string   `json:"coverImage,omitempty"`
	Created    int64    `json:"created"`
}

type RoomPreview struct {
	Room
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// RoomRecord is a room as stored, plus the profile of the other member when
// the room is direct. Direct rooms have no stored name or cover.
type RoomRecord struct {
	Room
	PeerName  string
	PeerImage string
	Last      *Message
}

func (r RoomRecord) view() Room {
	room := r.Room
	if room.Type == DirectRoom {
		room.Name = r.PeerName
		room.CoverImage = r.PeerImage
	}
	return room
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
