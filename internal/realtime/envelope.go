package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame types exchanged with the hub.
const (
	typeAuthRequired    = "auth_required"
	typeAuth            = "auth"
	typeAuthOK          = "auth_ok"
	typeAuthInvalid     = "auth_invalid"
	typeEvent           = "event"
	typeResult          = "result"
	typePing            = "ping"
	typePong            = "pong"
	typeSubscribeEvents = "subscribe_events"
)

// Event types the client subscribes to, in subscription order.
const (
	EventStateChanged = "state_changed"
	EventCallService  = "call_service"
)

// MessageKind is the closed set of inbound frame shapes.
type MessageKind int

// Inbound frame kinds. MessageOther covers any type the client does not
// act on.
const (
	MessageOther MessageKind = iota
	MessageAuthRequired
	MessageAuthOK
	MessageAuthInvalid
	MessageEvent
	MessageResult
	MessagePong
)

// String returns the wire type the kind was parsed from.
func (k MessageKind) String() string {
	switch k {
	case MessageAuthRequired:
		return typeAuthRequired
	case MessageAuthOK:
		return typeAuthOK
	case MessageAuthInvalid:
		return typeAuthInvalid
	case MessageEvent:
		return typeEvent
	case MessageResult:
		return typeResult
	case MessagePong:
		return typePong
	default:
		return "other"
	}
}

// Envelope is a decoded inbound frame. Fields a given type does not carry
// are left at their zero value.
type Envelope struct {
	Type    string     `json:"type"`
	ID      int64      `json:"id,omitempty"`
	Message string     `json:"message,omitempty"`
	Success *bool      `json:"success,omitempty"`
	Event   *EventBody `json:"event,omitempty"`

	kind MessageKind
}

// Kind returns the envelope's frame kind.
func (e Envelope) Kind() MessageKind {
	return e.kind
}

// EventBody is the payload of an "event" frame.
type EventBody struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired string          `json:"time_fired,omitempty"`
}

// EntityState is an entity's state as reported by the hub.
type EntityState struct {
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged string         `json:"last_changed,omitempty"`
	LastUpdated string         `json:"last_updated,omitempty"`

	// Removed is set when the hub reported a null new_state, meaning the
	// entity no longer exists. The other fields are then empty.
	Removed bool `json:"-"`
}

type stateChangedData struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
}

type callServiceData struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
}

// Outbound frames. Field order follows the hub's documented examples.
type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type subscribeEventsMessage struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

type pingMessage struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// DecodeEnvelope parses a text frame and classifies it.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: decode frame: %w", ErrProtocol, err)
	}
	env.kind = kindOf(env.Type)
	return env, nil
}

func kindOf(t string) MessageKind {
	switch t {
	case typeAuthRequired:
		return MessageAuthRequired
	case typeAuthOK:
		return MessageAuthOK
	case typeAuthInvalid:
		return MessageAuthInvalid
	case typeEvent:
		return MessageEvent
	case typeResult:
		return MessageResult
	case typePong:
		return MessagePong
	default:
		return MessageOther
	}
}
