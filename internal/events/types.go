// Package events defines the event types exchanged on the Statecast event
// bus. The relay publishes session lifecycle and fan-out events; telemetry,
// the session store and the console subscribe to them.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"

	// Relay
	EventMessageRelayed EventType = "message_relayed"
	EventDecodeFailed   EventType = "decode_failed"

	// Commands
	EventKickSession EventType = "kick_session"

	// System
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// CloseReason describes why a session left the Active state.
type CloseReason int

const (
	CloseReasonUnknown CloseReason = iota
	CloseReasonPeerClosed
	CloseReasonReadError
	CloseReasonDecodeError
	CloseReasonNonText
	CloseReasonKicked
	CloseReasonShutdown
)

var closeReasonStrings = map[CloseReason]string{
	CloseReasonUnknown:     "unknown",
	CloseReasonPeerClosed:  "peer_closed",
	CloseReasonReadError:   "read_error",
	CloseReasonDecodeError: "decode_error",
	CloseReasonNonText:     "non_text_frame",
	CloseReasonKicked:      "kicked",
	CloseReasonShutdown:    "shutdown",
}

// String returns the string representation of CloseReason.
func (r CloseReason) String() string {
	if str, ok := closeReasonStrings[r]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes CloseReason as a JSON string (e.g. "kicked").
func (r CloseReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionOpenedPayload is emitted once a connection is registered.
type SessionOpenedPayload struct {
	SessionID  uint64    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	OpenedAt   time.Time `json:"opened_at"`
}

// SessionClosedPayload is emitted after a connection is deregistered.
type SessionClosedPayload struct {
	SessionID    uint64      `json:"session_id"`
	RemoteAddr   string      `json:"remote_addr"`
	OpenedAt     time.Time   `json:"opened_at"`
	ClosedAt     time.Time   `json:"closed_at"`
	Reason       CloseReason `json:"reason"`
	FramesIn     uint64      `json:"frames_in"`
	BytesIn      uint64      `json:"bytes_in"`
	FramesOut    uint64      `json:"frames_out"`
	SendFailures uint64      `json:"send_failures"`
}

// MessageRelayedPayload describes one completed fan-out.
type MessageRelayedPayload struct {
	SenderID   uint64 `json:"sender_id"`
	Kind       string `json:"kind"`
	Bytes      int    `json:"bytes"`
	Recipients int    `json:"recipients"`
	Failures   int    `json:"failures"`
}

// DecodeFailedPayload is emitted when an inbound frame could not be decoded.
type DecodeFailedPayload struct {
	SessionID uint64 `json:"session_id"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
}

// KickSessionPayload asks the session server to close a session.
type KickSessionPayload struct {
	SessionID uint64
}

// HeartbeatPayload is emitted periodically by the health manager.
type HeartbeatPayload struct {
	ActiveSessions int       `json:"active_sessions"`
	Uptime         string    `json:"uptime"`
	MemoryUsedPct  float64   `json:"memory_used_pct"`
	CPUPct         float64   `json:"cpu_pct"`
	Timestamp      time.Time `json:"timestamp"`
}
