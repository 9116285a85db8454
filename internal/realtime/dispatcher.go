package realtime

import "sync"

// Dispatcher is an Observer that queues every notification and hands them,
// in order, to a single consumer reading Events. Producers never block: the
// queue is unbounded and drained by the dispatcher's own goroutine.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	wake chan struct{}
	out  chan Event
	done *closeOnce
	exit chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
// Call Close to stop it.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: newCloseOnce(),
		exit: make(chan struct{}),
	}
	go d.pump()
	return d
}

// Events returns the channel the consumer reads from. It is closed after
// Close.
func (d *Dispatcher) Events() <-chan Event {
	return d.out
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops delivery. Queued events that were not yet handed over are
// dropped. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	d.done.Close()
	<-d.exit
}

func (d *Dispatcher) push(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pump() {
	defer close(d.exit)
	defer close(d.out)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			select {
			case <-d.wake:
				continue
			case <-d.done.Done():
				return
			}
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		select {
		case d.out <- ev:
		case <-d.done.Done():
			return
		}
	}
}

func (d *Dispatcher) OnConnected()    { d.push(ConnectedEvent{}) }
func (d *Dispatcher) OnDisconnected() { d.push(DisconnectedEvent{}) }
func (d *Dispatcher) OnStateChanged(entityID string, state EntityState) {
	d.push(StateChangeEvent{EntityID: entityID, NewState: state})
}
func (d *Dispatcher) OnNotification(title, message string) {
	d.push(NotificationEvent{Title: title, Message: message})
}
func (d *Dispatcher) OnError(message string) { d.push(ErrorEvent{Message: message}) }
