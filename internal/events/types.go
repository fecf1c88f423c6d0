// Package events defines event types for the Micro Mayhem event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session events
	EventPlayerJoined    EventType = "player_joined"
	EventPlayerLeft      EventType = "player_left"
	EventConnectRejected EventType = "connect_rejected"
	EventSessionState    EventType = "session_state"

	// Server lifecycle events
	EventServerStarted EventType = "server_started"
	EventLongTick      EventType = "long_tick"
	EventShutdown      EventType = "shutdown"
)

// LeaveReason explains why a player left.
type LeaveReason int

const (
	LeaveDisconnect LeaveReason = iota
	LeaveTimeout
	LeaveKicked
	LeaveShutdown
)

var leaveReasonStrings = map[LeaveReason]string{
	LeaveDisconnect: "disconnect",
	LeaveTimeout:    "timeout",
	LeaveKicked:     "kicked",
	LeaveShutdown:   "shutdown",
}

// String returns the string representation of LeaveReason.
func (r LeaveReason) String() string {
	if str, ok := leaveReasonStrings[r]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes LeaveReason as a JSON string (e.g. "timeout").
func (r LeaveReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
	// At is stamped by the bus when left zero.
	At time.Time
}

// PlayerJoinedPayload is emitted when a remote completes Request.
type PlayerJoinedPayload struct {
	ID      uint8
	Name    string
	Address string
	At      time.Time
}

// PlayerLeftPayload is emitted when an active player is removed.
type PlayerLeftPayload struct {
	ID      uint8
	Name    string
	Address string
	Reason  LeaveReason
	At      time.Time
}

// ConnectRejectedPayload is emitted when a Connect hits a full registry.
type ConnectRejectedPayload struct {
	Address  string
	Name     string
	Capacity int
}

// SessionStatePayload is emitted by the client on every state change.
type SessionStatePayload struct {
	From string
	To   string
	ID   uint8
}

// ServerStartedPayload is emitted once the socket is bound.
type ServerStartedPayload struct {
	Address  string
	Capacity int
	TickRate int
}

// LongTickPayload is emitted by the tick monitor.
type LongTickPayload struct {
	Tick     uint64
	Duration time.Duration
	Level    string // "warning" or "critical"
	Count    int    // long ticks in the current hour
}
