package realtime

import (
	"encoding/json"
	"strings"
)

// DefaultNotificationTitle is used when a notification carries no title.
const DefaultNotificationTitle = "Home Assistant"

const (
	notificationDomain       = "persistent_notification"
	notificationEntityPrefix = notificationDomain + "."
	notificationCreate       = "create"
)

// Router classifies decoded frames into events. It holds no state of its
// own beyond the subscription registry it filters against.
type Router struct {
	subs *Subscriptions
}

// NewRouter creates a router filtering state changes through subs.
// A nil subs delivers every state change.
func NewRouter(subs *Subscriptions) *Router {
	if subs == nil {
		subs = NewSubscriptions()
	}
	return &Router{subs: subs}
}

// ClassifyFrame decodes and classifies one text frame.
func (r *Router) ClassifyFrame(data []byte) ([]Event, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return r.Classify(env), nil
}

// Classify returns the events carried by env, in the order observers
// should see them. Frames that are not events, and events with missing or
// malformed fields, yield nothing.
func (r *Router) Classify(env Envelope) []Event {
	if env.Kind() != MessageEvent || env.Event == nil {
		return nil
	}

	switch env.Event.EventType {
	case EventStateChanged:
		return r.stateChanged(env.Event.Data)
	case EventCallService:
		return callService(env.Event.Data)
	default:
		return nil
	}
}

func (r *Router) stateChanged(raw json.RawMessage) []Event {
	var data stateChangedData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil || data.EntityID == "" {
		return nil
	}

	var events []Event
	if strings.HasPrefix(data.EntityID, notificationEntityPrefix) && data.NewState != nil {
		attrs := data.NewState.Attributes
		message := stringAttr(attrs, "message")
		if message == "" {
			message = data.NewState.State
		}
		if message != "" {
			events = append(events, NotificationEvent{
				Title:   titleOrDefault(stringAttr(attrs, "title")),
				Message: message,
			})
		}
	}

	if r.subs.Snapshot().Matches(data.EntityID) {
		state := EntityState{Removed: true}
		if data.NewState != nil {
			state = *data.NewState
		}
		events = append(events, StateChangeEvent{EntityID: data.EntityID, NewState: state})
	}
	return events
}

func callService(raw json.RawMessage) []Event {
	var data callServiceData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil {
		return nil
	}
	if data.Domain != notificationDomain || data.Service != notificationCreate {
		return nil
	}

	message := stringAttr(data.ServiceData, "message")
	if message == "" {
		return nil
	}
	return []Event{NotificationEvent{
		Title:   titleOrDefault(stringAttr(data.ServiceData, "title")),
		Message: message,
	}}
}

func stringAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func titleOrDefault(title string) string {
	if title == "" {
		return DefaultNotificationTitle
	}
	return title
}
