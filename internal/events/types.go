// Package events defines the event types emitted by the gsemu services and
// the bus that fans them out to telemetry and the audit log.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Router connection lifecycle
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventHandshakeProgress  EventType = "handshake_progress"
	EventClientLogin        EventType = "client_login"

	// CD-key service
	EventCDKeyRequest EventType = "cdkey_request"

	// NAT service
	EventNATRequest EventType = "nat_request"

	// Any service
	EventProtocolError EventType = "protocol_error"

	// System events
	EventShutdown EventType = "shutdown"
)

// AllEventTypes lists every event type, in the order subscribers that want
// everything register for them.
var AllEventTypes = []EventType{
	EventClientConnected,
	EventClientDisconnected,
	EventHandshakeProgress,
	EventClientLogin,
	EventCDKeyRequest,
	EventNATRequest,
	EventProtocolError,
	EventShutdown,
}

// Service names used as the event Source prefix and in MQTT topics.
const (
	ServiceRouter     = "router"
	ServiceWaitModule = "wait_module"
	ServiceCDKey      = "cdkey"
	ServiceNAT        = "gsnat"
	ServiceIRC        = "irc"
	ServiceProxy      = "proxy"
	ServiceSystem     = "system"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// New creates an event stamped with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// ConnectionPayload identifies a TCP connection to the router, wait
// module, IRC or proxy listener.
type ConnectionPayload struct {
	ConnID   string `json:"conn_id"`
	Remote   string `json:"remote"`
	Listener string `json:"listener"`
}

// DisconnectPayload is emitted when a TCP connection ends.
type DisconnectPayload struct {
	ConnectionPayload
	Reason   string  `json:"reason"`
	Duration float64 `json:"duration_sec"`
}

// HandshakePayload reports a session state transition.
type HandshakePayload struct {
	ConnectionPayload
	State string `json:"state"`
}

// LoginPayload reports an accepted login.
type LoginPayload struct {
	ConnectionPayload
	Username string `json:"username"`
}

// CDKeyRequestPayload describes one handled CD-key datagram.
type CDKeyRequestPayload struct {
	Remote      string `json:"remote"`
	MessageID   string `json:"message_id"`
	RequestType string `json:"request_type"`
	Replied     bool   `json:"replied"`
}

// NATRequestPayload describes one handled NAT request.
type NATRequestPayload struct {
	Remote  string `json:"remote"`
	Flags   uint16 `json:"flags"`
	Seg     uint16 `json:"seg"`
	Replied bool   `json:"replied"`
}

// ProtocolErrorPayload reports a rejected message. ConnID is empty for
// CD-key and NAT datagrams.
type ProtocolErrorPayload struct {
	ConnID      string `json:"conn_id,omitempty"`
	Remote      string `json:"remote"`
	Kind        string `json:"kind"`
	MessageType string `json:"message_type,omitempty"`
	Detail      string `json:"detail"`
}

// ShutdownPayload is emitted once when the process begins shutting down.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}
