package realtime

// Observer receives everything the client and supervisor report.
// Implementations passed directly to NewClient are called on the client's
// goroutine and must not block; wrap slow consumers in a Dispatcher.
type Observer interface {
	OnConnected()
	OnDisconnected()
	OnStateChanged(entityID string, state EntityState)
	OnNotification(title, message string)
	OnError(message string)
}

// Event is one observer notification in value form.
type Event interface {
	isEvent()
}

// ConnectedEvent is sent once the handshake has completed.
type ConnectedEvent struct{}

// DisconnectedEvent is sent when a connected attempt ends.
type DisconnectedEvent struct{}

// StateChangeEvent carries a new entity state.
type StateChangeEvent struct {
	EntityID string
	NewState EntityState
}

// NotificationEvent carries a persistent notification.
type NotificationEvent struct {
	Title   string
	Message string
}

// ErrorEvent carries a human readable failure or reconnect notice.
type ErrorEvent struct {
	Message string
}

func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (StateChangeEvent) isEvent()  {}
func (NotificationEvent) isEvent() {}
func (ErrorEvent) isEvent()        {}

// Deliver calls the observer method matching ev on each observer in turn.
func Deliver(ev Event, observers ...Observer) {
	for _, o := range observers {
		if o == nil {
			continue
		}
		switch e := ev.(type) {
		case ConnectedEvent:
			o.OnConnected()
		case DisconnectedEvent:
			o.OnDisconnected()
		case StateChangeEvent:
			o.OnStateChanged(e.EntityID, e.NewState)
		case NotificationEvent:
			o.OnNotification(e.Title, e.Message)
		case ErrorEvent:
			o.OnError(e.Message)
		}
	}
}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (obs Observers) OnConnected()    { Deliver(ConnectedEvent{}, obs...) }
func (obs Observers) OnDisconnected() { Deliver(DisconnectedEvent{}, obs...) }
func (obs Observers) OnStateChanged(entityID string, state EntityState) {
	Deliver(StateChangeEvent{EntityID: entityID, NewState: state}, obs...)
}
func (obs Observers) OnNotification(title, message string) {
	Deliver(NotificationEvent{Title: title, Message: message}, obs...)
}
func (obs Observers) OnError(message string) { Deliver(ErrorEvent{Message: message}, obs...) }

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnConnected()                       {}
func (NopObserver) OnDisconnected()                    {}
func (NopObserver) OnStateChanged(string, EntityState) {}
func (NopObserver) OnNotification(string, string)      {}
func (NopObserver) OnError(string)                     {}
