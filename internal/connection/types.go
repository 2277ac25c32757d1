package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrInvalidHost     = errors.New("invalid api host")
)

// Status is the connection status exposed to consumers.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
	StatusUnavailable // polling mode
)

// AllStatuses lists every status, in declaration order.
var AllStatuses = []Status{
	StatusDisconnected,
	StatusConnecting,
	StatusConnected,
	StatusError,
	StatusUnavailable,
}

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the consumer-facing snapshot.
type State struct {
	Status         Status `json:"status"`
	IsConnected    bool   `json:"is_connected"`
	IsUsingPolling bool   `json:"is_using_polling"`
}

// StatusChange is delivered to watchers on every transition.
type StatusChange struct {
	From   Status
	To     Status
	Reason string
	At     time.Time
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// SubscribeCommand is sent once per session after the socket opens.
type SubscribeCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8000/ws)
	Token            string        // Optional bearer token
	PingInterval     time.Duration // Client ping period (0 disables)
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake timeout
	MaxMessageSize   int64         // Read limit in bytes (0 = unlimited)
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   8 << 20,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	APIHost              string        // http(s) host; the socket lives at /ws on the same host
	Channel              string        // Subscribe channel
	ReconnectBaseDelay   time.Duration // Delay before the first reconnect; doubles per attempt
	MaxReconnectAttempts int           // Reconnects before falling back to polling for good
	WatchBufferSize      int           // Per-watcher status channel buffer
	Client               ClientConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		APIHost:              "http://localhost:8000",
		Channel:              "prediction-markets",
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 5,
		WatchBufferSize:      16,
		Client:               DefaultClientConfig(),
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Status              Status    `json:"status"`
	SessionID           string    `json:"session_id,omitempty"`
	SessionStartedAt    time.Time `json:"session_started_at,omitempty"`
	SessionsOpened      int64     `json:"sessions_opened"`
	ReconnectAttempts   int       `json:"reconnect_attempts"`
	ReconnectsScheduled int64     `json:"reconnects_scheduled"`
	BudgetExhausted     bool      `json:"budget_exhausted"`
	MessagesReceived    int64     `json:"messages_received"`
	MessagesDropped     int64     `json:"messages_dropped"`
	UsingPolling        bool      `json:"using_polling"`
}
