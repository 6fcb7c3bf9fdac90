package realtime

import (
	"encoding/json"
	"regexp"
)

// Built-in events handled by the hub itself.
const (
	EventJoin      = "join"
	EventLeave     = "leave"
	EventPing      = "ping"
	EventPong      = "pong"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventError     = "error"
	EventConnected = "connected"
)

// Message is a client to server frame.
type Message struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Bind decodes the message payload into v.
func (m Message) Bind(v any) error {
	if len(m.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Data, v)
}

// Envelope is a server to client frame.
type Envelope struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

// ValidRoom reports whether name is an acceptable room name.
func ValidRoom(name string) bool {
	return roomPattern.MatchString(name)
}

func isReserved(event string) bool {
	switch event {
	case EventJoin, EventLeave, EventPing, EventPong, EventJoined, EventLeft, EventError, EventConnected:
		return true
	}
	return false
}
