package main

import (
	"github.com/nerrad567/prism-core/internal/infrastructure/logging"
	"github.com/nerrad567/prism-core/internal/realtime"
)

// logObserver writes every hub event to the log. It stands in for the
// panel UI when Prism runs headless.
type logObserver struct {
	log *logging.Logger
}

func newLogObserver(log *logging.Logger) *logObserver {
	return &logObserver{log: log.With("component", "events")}
}

func (o *logObserver) OnConnected() {
	o.log.Info("hub connected")
}

func (o *logObserver) OnDisconnected() {
	o.log.Info("hub disconnected")
}

func (o *logObserver) OnStateChanged(entityID string, state realtime.EntityState) {
	if state.Removed {
		o.log.Info("entity removed", "entity_id", entityID)
		return
	}
	o.log.Debug("state changed", "entity_id", entityID, "state", state.State)
}

func (o *logObserver) OnNotification(title, message string) {
	o.log.Info("notification", "title", title, "message", message)
}

func (o *logObserver) OnError(message string) {
	o.log.Warn(message)
}
