// Package api implements the local status HTTP server for Prism.
//
// This package provides:
//   - Health and status endpoints reporting the hub event stream
//   - Runtime subscription management (which entities are forwarded)
//   - A WebSocket endpoint streaming hub events to local tools
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server is read-mostly. It reports what the realtime client, the
// supervisor and the status tracker already know, and edits the shared
// subscription set. Subscription edits change filtering immediately and
// are declared to the hub on the next handshake.
//
// # Security
//
// There is no authentication. The server binds to 127.0.0.1 by default
// and must not be exposed beyond the local machine.
package api
