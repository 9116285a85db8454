package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Client.Run and the helpers around it.
// Callers should branch with errors.Is or KindOf, never on message text.
var (
	// ErrConnection covers transport failures: dial errors, socket resets,
	// write failures and closes initiated by the hub.
	ErrConnection = errors.New("realtime: connection failed")

	// ErrProtocol is returned when the hub sends something the handshake
	// did not expect.
	ErrProtocol = errors.New("realtime: protocol error")

	// ErrAuthFailed is returned when the hub rejects the access token.
	// It wraps ErrProtocol.
	ErrAuthFailed = fmt.Errorf("%w: authentication failed", ErrProtocol)

	// ErrMissingConfig is returned without any network activity when the
	// endpoint or the token is empty.
	ErrMissingConfig = errors.New("realtime: hub url and token are required")

	// ErrInvalidEndpoint is returned when the endpoint cannot be turned into
	// a websocket URL.
	ErrInvalidEndpoint = fmt.Errorf("%w: invalid hub url", ErrMissingConfig)

	// ErrConfigChanged is returned when a credential update closed the
	// live socket.
	ErrConfigChanged = fmt.Errorf("%w: configuration changed", ErrConnection)

	// ErrCancelled is returned when the attempt was stopped on request.
	// It is never reported to observers.
	ErrCancelled = errors.New("realtime: cancelled")

	// ErrAlreadyRunning is returned when Run or Start is called twice.
	ErrAlreadyRunning = errors.New("realtime: already running")
)

// ErrorKind classifies an error returned by Client.Run.
type ErrorKind int

// Error kinds, from most to least specific.
const (
	KindNone ErrorKind = iota
	KindConnection
	KindProtocol
	KindAuthFailed
	KindMissingConfig
	KindCancelled
)

// String returns the kind's lower-case name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindAuthFailed:
		return "auth_failed"
	case KindMissingConfig:
		return "missing_config"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// KindOf maps err onto an ErrorKind. Unrecognised non-nil errors count as
// connection failures, since anything that escapes Run ended the attempt.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrMissingConfig):
		return KindMissingConfig
	case errors.Is(err, ErrAuthFailed):
		return KindAuthFailed
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	default:
		return KindConnection
	}
}
