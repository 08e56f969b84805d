// Package events defines the lifecycle events the server publishes and
// the bus that delivers them to persistence, telemetry and other
// subscribers.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle
	EventConnectionAccepted   EventType = "connection_accepted"
	EventConnectionNegotiated EventType = "connection_negotiated"
	EventConnectionClosed     EventType = "connection_closed"

	// Worms
	EventWormAttached EventType = "worm_attached"
	EventWormDetached EventType = "worm_detached"

	// Traffic
	EventChatMessage   EventType = "chat_message"
	EventDecodeFailure EventType = "decode_failure"

	// Administration
	EventMuteChanged EventType = "mute_changed"
	EventShutdown    EventType = "shutdown"

	// Periodic
	EventHeartbeat EventType = "heartbeat"
)

// CloseReason says why a connection was dropped.
type CloseReason string

const (
	ReasonClientDisconnect CloseReason = "client_disconnect"
	ReasonTimeout          CloseReason = "timeout"
	ReasonChannelFailure   CloseReason = "channel_failure"
	ReasonKicked           CloseReason = "kicked"
	ReasonShutdown         CloseReason = "shutdown"
	ReasonReconnect        CloseReason = "reconnect"
	ReasonRejected         CloseReason = "rejected"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload describes a connection at a lifecycle transition.
type ConnectionPayload struct {
	Slot      int         `json:"slot"`
	SessionID string      `json:"session_id"`
	Address   string      `json:"address"`
	Local     bool        `json:"local"`
	Version   string      `json:"version,omitempty"`
	Codec     string      `json:"codec,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Reason    CloseReason `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

// WormPayload is emitted when a worm joins or leaves a connection.
type WormPayload struct {
	Slot   int    `json:"slot"`
	WormID int    `json:"worm_id"`
	Name   string `json:"name"`
}

// ChatPayload carries a chat line typed by a client.
type ChatPayload struct {
	Slot    int    `json:"slot"`
	Address string `json:"address"`
	Text    string `json:"text"`
	Muted   bool   `json:"muted"`
}

// DecodeFailurePayload reports frames a connection could not decode.
type DecodeFailurePayload struct {
	Slot    int    `json:"slot"`
	Address string `json:"address"`
	Error   string `json:"error"`
}

// MutePayload is emitted when an address is muted or unmuted.
type MutePayload struct {
	Address string `json:"address"`
	Muted   bool   `json:"muted"`
}

// HeartbeatPayload is a periodic summary of server load.
type HeartbeatPayload struct {
	Name        string    `json:"name"`
	Connections int       `json:"connections"`
	InGame      int       `json:"in_game"`
	Worms       int       `json:"worms"`
	Goroutines  int       `json:"goroutines"`
	CPUPercent  float64   `json:"cpu_percent"`
	RSSMB       uint64    `json:"rss_mb"`
	Uptime      int64     `json:"uptime_sec"`
	At          time.Time `json:"at"`
}
