package wordimpact

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ============================================================================
// Wire Framing (Engine.IO v4 / Socket.IO v5)
// ============================================================================

const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketAck          = '3'
	socketConnectError = '4'
)

// recordSeparator delimits packets in a long-polling payload.
const recordSeparator = "\x1e"

var (
	ErrNotConnected     = errors.New("realtime: not connected")
	ErrHandshake        = errors.New("realtime: handshake failed")
	ErrMalformedPayload = errors.New("realtime: malformed payload")
)

// handshake is the Engine.IO open packet payload.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// heartbeatWindow is how long the server may stay silent before the
// connection is considered dead.
func (h *handshake) heartbeatWindow() time.Duration {
	if h.PingInterval <= 0 {
		return 0
	}
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

func decodeHandshake(packet string) (*handshake, error) {
	if len(packet) == 0 || packet[0] != engineOpen {
		return nil, fmt.Errorf("%w: expected open packet, got %q", ErrHandshake, truncate(packet, 32))
	}
	var h handshake
	if err := json.Unmarshal([]byte(packet[1:]), &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if h.SID == "" {
		return nil, fmt.Errorf("%w: missing sid", ErrHandshake)
	}
	return &h, nil
}

// encodeConnect builds the Socket.IO CONNECT packet for the default
// namespace, carrying auth when non-nil.
func encodeConnect(auth any) (string, error) {
	if auth == nil {
		return "40", nil
	}
	b, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return "40" + string(b), nil
}

// encodeEvent builds a Socket.IO EVENT packet: 42["name",args...].
func encodeEvent(name string, args ...any) (string, error) {
	frame := make([]any, 0, len(args)+1)
	frame = append(frame, name)
	frame = append(frame, args...)
	b, err := json.Marshal(frame)
	if err != nil {
		return "", err
	}
	return "42" + string(b), nil
}

// parseSocketPacket splits the body of an Engine.IO message packet into the
// Socket.IO packet type and its payload, dropping namespace and ack id.
func parseSocketPacket(data string) (byte, string, error) {
	if len(data) == 0 {
		return 0, "", fmt.Errorf("%w: empty socket packet", ErrMalformedPayload)
	}
	typ := data[0]
	rest := data[1:]
	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = ""
		}
	}
	if typ == socketEvent || typ == socketAck {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		rest = rest[i:]
	}
	return typ, rest, nil
}

// parseEventArgs decodes ["name", arg...].
func parseEventArgs(payload string) (string, []json.RawMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("%w: empty event frame", ErrMalformedPayload)
	}
	var name string
	if err := json.Unmarshal(frame[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("%w: event name is not a string", ErrMalformedPayload)
	}
	return name, frame[1:], nil
}

// connectErrorMessage extracts the message of a CONNECT_ERROR payload,
// which is either an object with a message field or a bare string.
func connectErrorMessage(payload string) string {
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(payload), &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if json.Unmarshal([]byte(payload), &s) == nil && s != "" {
		return s
	}
	if payload == "" {
		return "connection refused"
	}
	return payload
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ============================================================================
// Event Names
// ============================================================================

const (
	EventConnect            = "connect"
	EventDisconnect         = "disconnect"
	EventConnectError       = "connect_error"
	EventConnected          = "connected"
	EventNewMessage         = "new_message"
	EventMessageRead        = "message_read"
	EventNewNotification    = "new_notification"
	EventNotificationRead   = "notification_read"
	EventError              = "error"
	EventPing               = "ping"
	EventStateChange        = "state_change"
	EventReconnecting       = "reconnecting"
	EventReconnectExhausted = "reconnect_exhausted"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// Event is a decoded realtime event. Concrete types are the values listeners
// receive; switch on them to read the payload.
type Event interface {
	EventName() string
}

// ConnectEvent fires when the Socket.IO session is established.
type ConnectEvent struct {
	Transport string
	SID       string
}

// DisconnectEvent fires when an established connection is lost or closed.
type DisconnectEvent struct {
	Reason DisconnectReason
}

// ConnectErrorEvent fires when a connection attempt fails.
type ConnectErrorEvent struct {
	Err error
}

// StateChangeEvent fires on every connection state transition.
type StateChangeEvent struct {
	Old ConnectionState
	New ConnectionState
}

// ReconnectingEvent fires when the application policy schedules a retry.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectExhaustedEvent fires when the policy stops retrying.
type ReconnectExhaustedEvent struct {
	Attempts int
}

// ConnectedAckEvent is the server's application-level session ack.
type ConnectedAckEvent struct {
	UserID string          `json:"userId,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// PushSender is the sender shadow carried by new_message.
type PushSender struct {
	ID       string `json:"id" validate:"required"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	FullName string `json:"fullName"`
}

// PushedMessage is the denormalized message shadow carried by new_message.
type PushedMessage struct {
	ID          string     `json:"id" validate:"required"`
	Content     string     `json:"content"`
	Sender      PushSender `json:"sender"`
	RecipientID string     `json:"recipientId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PushedNotification is the notification shadow carried by push events.
type PushedNotification struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title" validate:"required"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// NewMessageEvent signals a message was created involving this user.
type NewMessageEvent struct {
	Message      PushedMessage       `json:"message"`
	Notification *PushedNotification `json:"notification,omitempty"`
}

// MessageReadEvent signals a message's read state changed.
type MessageReadEvent struct {
	MessageID string          `json:"messageId,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// NewNotificationEvent signals a notification was created.
type NewNotificationEvent struct {
	Notification PushedNotification `json:"notification"`
}

// NotificationReadEvent signals a notification's read state changed.
type NotificationReadEvent struct {
	NotificationID string          `json:"notificationId,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// ServerErrorEvent is an advisory error pushed by the server.
type ServerErrorEvent struct {
	Message string
}

// RawEvent carries any event name this package does not model.
type RawEvent struct {
	Name string
	Args []json.RawMessage
}

func (ConnectEvent) EventName() string            { return EventConnect }
func (DisconnectEvent) EventName() string         { return EventDisconnect }
func (ConnectErrorEvent) EventName() string       { return EventConnectError }
func (StateChangeEvent) EventName() string        { return EventStateChange }
func (ReconnectingEvent) EventName() string       { return EventReconnecting }
func (ReconnectExhaustedEvent) EventName() string { return EventReconnectExhausted }
func (ConnectedAckEvent) EventName() string       { return EventConnected }
func (NewMessageEvent) EventName() string         { return EventNewMessage }
func (MessageReadEvent) EventName() string        { return EventMessageRead }
func (NewNotificationEvent) EventName() string    { return EventNewNotification }
func (NotificationReadEvent) EventName() string   { return EventNotificationRead }
func (ServerErrorEvent) EventName() string        { return EventError }
func (e RawEvent) EventName() string              { return e.Name }

// ============================================================================
// Push Event Decoding
// ============================================================================

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// decodeEvent validates a server-pushed event once, at the protocol
// boundary, and returns its typed value.
func decodeEvent(name string, args []json.RawMessage) (Event, error) {
	var first json.RawMessage
	if len(args) > 0 {
		first = args[0]
	}

	switch name {
	case EventNewMessage:
		var ev NewMessageEvent
		if err := decodeStrict(first, &ev); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return ev, nil

	case EventNewNotification:
		var ev NewNotificationEvent
		if err := decodeStrict(first, &ev); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return ev, nil

	case EventMessageRead:
		ev := MessageReadEvent{Raw: first}
		if len(first) > 0 {
			_ = json.Unmarshal(first, &ev)
		}
		return ev, nil

	case EventNotificationRead:
		ev := NotificationReadEvent{Raw: first}
		if len(first) > 0 {
			_ = json.Unmarshal(first, &ev)
		}
		return ev, nil

	case EventConnected:
		ev := ConnectedAckEvent{Raw: first}
		if len(first) > 0 {
			_ = json.Unmarshal(first, &ev)
		}
		return ev, nil

	case EventError:
		return ServerErrorEvent{Message: errorPayloadMessage(first)}, nil

	case EventConnect, EventDisconnect, EventConnectError, EventStateChange,
		EventReconnecting, EventReconnectExhausted:
		// Reserved for local lifecycle events; a server must not forge them.
		return nil, fmt.Errorf("%w: reserved event name %q", ErrMalformedPayload, name)
	}

	return RawEvent{Name: name, Args: args}, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := payloadValidator.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func errorPayloadMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var obj struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if len(obj.Error) > 0 {
			var s string
			if json.Unmarshal(obj.Error, &s) == nil {
				return s
			}
			return string(obj.Error)
		}
		if obj.Message != "" {
			return obj.Message
		}
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
