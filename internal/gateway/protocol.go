package gateway

import "encoding/json"

// ClientMessage is the envelope every inbound client frame must decode
// into (spec §4.5: "permits subscribe/unsubscribe to market channels
// freely; user channels are permitted only for the authenticated user's
// own id"). Action is one of handshake/subscribe/unsubscribe/ping.
type ClientMessage struct {
	Action  string          `json:"action"`
	Topics  []string        `json:"topics,omitempty"`
	Version string          `json:"version,omitempty"` // handshake only
	Token   string          `json:"token,omitempty"`   // handshake only
	Data    json.RawMessage `json:"data,omitempty"`
}

const (
	ActionHandshake   = "handshake"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// ServerMessage is every outbound frame, wrapping either a broadcast
// envelope or a control reply (ack, error, pong).
type ServerMessage struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic,omitempty"`
	Sequence uint64          `json:"sequence,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	ServerTypeAck       = "ack"
	ServerTypeError     = "error"
	ServerTypePong      = "pong"
	ServerTypeEvent     = "event"
	ServerTypeHandshake = "handshake_ok"
)
