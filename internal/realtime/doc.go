// Package realtime keeps a live, authenticated event stream open against a
// Home Assistant hub and redistributes what it hears to observers.
//
// The package is split into four parts that build on each other:
//
//   - Subscriptions: the set of entity ids the consumer cares about. Readers
//     take immutable snapshots; writers swap a new snapshot in atomically.
//   - Router: turns a decoded frame into zero or more typed events
//     (state changes and notifications), applying the subscription filter.
//   - Client: runs one connection attempt end to end. It dials the hub,
//     performs the auth and subscribe handshake, then pumps frames into the
//     router until the socket closes or the context is cancelled.
//   - Supervisor: calls Client.Run in a loop with exponential backoff and
//     an interruptible sleep between attempts.
//
// Observers are never called on a goroutine the caller owns. Wrap the consumer
// in a Dispatcher to hand events across to a single consumer goroutine without
// blocking the client:
//
//	subs := realtime.NewSubscriptions("light.kitchen")
//	conn := realtime.NewConnectionConfig("http://hub.local:8123", token)
//	disp := realtime.NewDispatcher()
//	client := realtime.NewClient(realtime.ClientConfig{}, conn, subs, disp)
//	sup := realtime.NewSupervisor(client, realtime.DefaultBackoffPolicy(), disp)
//	sup.Start(ctx)
//
//	for ev := range disp.Events() {
//	    realtime.Deliver(ev, ui)
//	}
//
// # Wire Protocol
//
// All frames are JSON text frames. The client expects "auth_required", sends
// {"type":"auth","access_token":...}, expects "auth_ok", then subscribes to
// "state_changed" (id 1) and "call_service" (id 2). When the stream goes quiet
// for the poll interval the client sends {"id":N,"type":"ping"}. Message ids
// start at 1 on every new connection.
package realtime
