package realtime

import (
	"fmt"
	"time"
)

// Backoff defaults.
const (
	DefaultBackoffInitial        = 1 * time.Second
	DefaultBackoffMultiplier     = 2.0
	DefaultBackoffMax            = 30 * time.Second
	DefaultBackoffSustainedReset = 10 * time.Second
)

// BackoffPolicy controls the delay between connection attempts.
type BackoffPolicy struct {
	// Initial is the first delay, and the delay after a sustained connection.
	Initial time.Duration

	// Multiplier grows the delay after each short-lived attempt.
	Multiplier float64

	// Max caps the delay.
	Max time.Duration

	// SustainedReset is how long an attempt must stay connected for the
	// delay to drop back to Initial.
	SustainedReset time.Duration

	// AuthFailureDelay is the minimum delay after the hub rejected the
	// token. Zero means Max.
	AuthFailureDelay time.Duration
}

// DefaultBackoffPolicy returns 1s doubling to 30s, reset after 10s connected.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:        DefaultBackoffInitial,
		Multiplier:     DefaultBackoffMultiplier,
		Max:            DefaultBackoffMax,
		SustainedReset: DefaultBackoffSustainedReset,
	}
}

// Validate reports whether the policy is usable.
func (p BackoffPolicy) Validate() error {
	switch {
	case p.Initial <= 0:
		return fmt.Errorf("backoff initial must be positive, got %s", p.Initial)
	case p.Multiplier < 1:
		return fmt.Errorf("backoff multiplier must be >= 1, got %g", p.Multiplier)
	case p.Max < p.Initial:
		return fmt.Errorf("backoff max %s is below initial %s", p.Max, p.Initial)
	case p.SustainedReset < 0:
		return fmt.Errorf("backoff sustained reset must not be negative, got %s", p.SustainedReset)
	case p.AuthFailureDelay < 0:
		return fmt.Errorf("backoff auth failure delay must not be negative, got %s", p.AuthFailureDelay)
	}
	return nil
}

func (p BackoffPolicy) authFailureDelay() time.Duration {
	if p.AuthFailureDelay > 0 {
		return p.AuthFailureDelay
	}
	return p.Max
}

// Backoff tracks the current delay. It is not safe for concurrent use.
type Backoff struct {
	policy  BackoffPolicy
	current time.Duration
}

// NewBackoff creates a backoff starting at policy.Initial.
func NewBackoff(policy BackoffPolicy) *Backoff {
	return &Backoff{policy: policy, current: policy.Initial}
}

// Next returns the delay to sleep after an attempt that stayed connected
// for connectedFor, and advances the progression.
func (b *Backoff) Next(connectedFor time.Duration) time.Duration {
	if connectedFor >= b.policy.SustainedReset && connectedFor > 0 {
		b.current = b.policy.Initial
	}
	delay := b.current

	next := time.Duration(float64(b.current) * b.policy.Multiplier)
	if next > b.policy.Max || next <= 0 {
		next = b.policy.Max
	}
	b.current = next
	return delay
}

// Reset returns the progression to Initial.
func (b *Backoff) Reset() {
	b.current = b.policy.Initial
}

// formatDelay renders a delay for the reconnect notice: whole seconds as
// "5s", anything else in Go duration syntax.
func formatDelay(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
