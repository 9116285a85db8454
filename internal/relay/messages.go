package relay

import (
	"time"

	"github.com/nerrad567/prism-core/internal/realtime"
)

// Hub status values.
const (
	HubOnline  = "online"
	HubOffline = "offline"
)

// StateMessage is published when a watched entity changes.
// Topic: {prefix}/state/{entity_id}
// QoS: configured, Retained: Yes
type StateMessage struct {
	// EntityID is the hub entity identifier, e.g. "light.kitchen".
	EntityID string `json:"entity_id"`

	// State is the raw state string reported by the hub.
	State string `json:"state"`

	// Attributes holds the entity attributes unchanged.
	Attributes map[string]any `json:"attributes,omitempty"`

	// LastChanged is the hub's own timestamp, when present.
	LastChanged string `json:"last_changed,omitempty"`

	// Timestamp is when Prism relayed the change (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// NotificationMessage is published for hub notifications.
// Topic: {prefix}/notification
// QoS: configured, Retained: No
type NotificationMessage struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HubStatusMessage mirrors the event stream connection.
// Topic: {prefix}/hub/status
// QoS: configured, Retained: Yes
type HubStatusMessage struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStateMessage creates a state message for an entity.
func NewStateMessage(entityID string, state realtime.EntityState, now time.Time) StateMessage {
	return StateMessage{
		EntityID:    entityID,
		State:       state.State,
		Attributes:  state.Attributes,
		LastChanged: state.LastChanged,
		Timestamp:   now.UTC(),
	}
}
