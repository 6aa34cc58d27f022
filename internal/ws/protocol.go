package ws

import (
	"bytes"
	"encoding/json"
	"strconv"

	"roomchat/internal/chat"
)

// AckToken is the handshake frame that binds a connection to its user.
const AckToken = "ack"

const (
	TypeMessage = "message"
	TypeFiles   = "files"
	TypeError   = "error"
)

// Frame is one parsed inbound frame: AckFrame, MessageFrame or InvalidFrame.
type Frame interface {
	isFrame()
}

type AckFrame struct{}

type MessageFrame struct {
	Message chat.PendingMessage
}

type InvalidFrame struct {
	Reason string
	// TempID is set when the frame carried a usable one, so the error can
	// still be correlated on the client.
	TempID json.Number
}

func (AckFrame) isFrame()     {}
func (MessageFrame) isFrame() {}
func (InvalidFrame) isFrame() {}

type rawPending struct {
	TempID json.RawMessage `json:"tempId"`
	RoomID json.RawMessage `json:"roomId"`
	Text   json.RawMessage `json:"text"`
}

// ParseFrame classifies an inbound text frame. A message frame must be a
// JSON object with a numeric tempId, an integer roomId and a string text.
func ParseFrame(data []byte) Frame {
	if string(data) == AckToken {
		return AckFrame{}
	}

	var raw rawPending
	if err := json.Unmarshal(data, &raw); err != nil {
		return InvalidFrame{Reason: "not a JSON object"}
	}

	tempID, ok := jsonNumber(raw.TempID)
	if !ok {
		return InvalidFrame{Reason: "tempId must be a number"}
	}
	roomNum, ok := jsonNumber(raw.RoomID)
	if !ok {
		return InvalidFrame{Reason: "roomId must be a number", TempID: tempID}
	}
	roomID, err := strconv.ParseInt(roomNum.String(), 10, 64)
	if err != nil {
		return InvalidFrame{Reason: "roomId must be an integer", TempID: tempID}
	}
	if len(raw.Text) == 0 || raw.Text[0] != '"' {
		return InvalidFrame{Reason: "text must be a string", TempID: tempID}
	}
	var text string
	if err := json.Unmarshal(raw.Text, &text); err != nil {
		return InvalidFrame{Reason: "text must be a string", TempID: tempID}
	}

	return MessageFrame{Message: chat.PendingMessage{TempID: tempID, RoomID: roomID, Text: text}}
}

// jsonNumber accepts a bare JSON number literal only; quoted numbers and
// null are rejected.
func jsonNumber(raw json.RawMessage) (json.Number, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n, true
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorData struct {
	TempID  json.Number `json:"tempId,omitempty"`
	Message string      `json:"message"`
}

func encode(typ string, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: typ, Data: data})
}

func encodeError(tempID json.Number, message string) ([]byte, error) {
	return encode(TypeError, errorData{TempID: tempID, Message: message})
}
