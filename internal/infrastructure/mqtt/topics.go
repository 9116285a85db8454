package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "prism"

// Topics builds the topics Prism publishes to. Every topic sits below a
// configurable prefix so several panels can share one broker:
//
//	topics := mqtt.NewTopics("prism")
//	topics.EntityState("light.kitchen")
//	// Returns: "prism/state/light.kitchen"
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder for prefix. Leading and trailing
// slashes are trimmed; an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// EntityState returns the retained state topic for a hub entity.
//
// Example: prism/state/light.kitchen
func (t Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", t.Prefix(), sanitiseLevel(entityID))
}

// Notification returns the topic for hub notifications.
//
// Example: prism/notification
func (t Topics) Notification() string {
	return t.Prefix() + "/notification"
}

// HubStatus returns the retained topic reporting whether the hub event
// stream is connected.
//
// Example: prism/hub/status
func (t Topics) HubStatus() string {
	return t.Prefix() + "/hub/status"
}

// SystemStatus returns the retained topic for Prism's own online status.
// It also carries the Last Will and Testament.
//
// Example: prism/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// AllEntityStates returns a wildcard matching every entity state topic.
//
// Example: prism/state/+
func (t Topics) AllEntityStates() string {
	return t.Prefix() + "/state/+"
}

// sanitiseLevel keeps a value inside one topic level. Hub entity ids never
// contain these characters, so this only guards against odd input.
func sanitiseLevel(s string) string {
	return strings.NewReplacer("/", "_", "#", "_", "+", "_").Replace(s)
}
