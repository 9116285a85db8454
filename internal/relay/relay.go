package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/prism-core/internal/realtime"
)

// Publisher is the subset of the MQTT client the relay needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	PublishRetained(topic string, payload []byte) error
	IsConnected() bool
}

// TopicSet names the topics the relay writes to.
// mqtt.Topics satisfies it.
type TopicSet interface {
	EntityState(entityID string) string
	Notification() string
	HubStatus() string
}

// Logger is the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Stats holds relay counters.
type Stats struct {
	Published uint64
	Skipped   uint64
	Failed    uint64
}

// MQTTRelay is a realtime.Observer that republishes hub events to MQTT.
//
// Events arriving while the broker is unreachable are skipped, not queued.
// The next state change of an entity overwrites the retained value anyway.
type MQTTRelay struct {
	pub    Publisher
	topics TopicSet
	now    func() time.Time

	published atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewMQTTRelay creates a relay publishing through pub.
func NewMQTTRelay(pub Publisher, topics TopicSet) *MQTTRelay {
	return &MQTTRelay{
		pub:    pub,
		topics: topics,
		now:    time.Now,
	}
}

// SetLogger sets the logger for publish failures.
func (r *MQTTRelay) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Stats returns a snapshot of the relay counters.
func (r *MQTTRelay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Skipped:   r.skipped.Load(),
		Failed:    r.failed.Load(),
	}
}

func (r *MQTTRelay) OnConnected() {
	r.publishHubStatus(HubOnline)
}

func (r *MQTTRelay) OnDisconnected() {
	r.publishHubStatus(HubOffline)
}

// OnStateChanged publishes the retained state of an entity. A removed
// entity gets an empty retained message, which clears its topic.
func (r *MQTTRelay) OnStateChanged(entityID string, state realtime.EntityState) {
	topic := r.topics.EntityState(entityID)
	if state.Removed {
		r.send(topic, func() error { return r.pub.PublishRetained(topic, []byte{}) })
		return
	}
	msg := NewStateMessage(entityID, state, r.now())
	r.publish(topic, msg, true)
}

func (r *MQTTRelay) OnNotification(title, message string) {
	r.publish(r.topics.Notification(), NotificationMessage{
		Title:     title,
		Message:   message,
		Timestamp: r.now().UTC(),
	}, false)
}

// OnError is not relayed. Errors and reconnect notices are local concerns.
func (r *MQTTRelay) OnError(string) {}

func (r *MQTTRelay) publishHubStatus(status string) {
	r.publish(r.topics.HubStatus(), HubStatusMessage{
		Status:    status,
		Timestamp: r.now().UTC(),
	}, true)
}

func (r *MQTTRelay) publish(topic string, v any, retained bool) {
	r.send(topic, func() error { return r.pub.PublishJSON(topic, v, retained) })
}

func (r *MQTTRelay) send(topic string, fn func() error) {
	if !r.pub.IsConnected() {
		r.skipped.Add(1)
		r.logDebug("mqtt relay skipped, broker not connected", "topic", topic)
		return
	}
	if err := fn(); err != nil {
		r.failed.Add(1)
		r.logWarn("mqtt relay publish failed", "topic", topic, "error", err)
		return
	}
	r.published.Add(1)
}

func (r *MQTTRelay) logDebug(msg string, args ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

func (r *MQTTRelay) logWarn(msg string, args ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}
