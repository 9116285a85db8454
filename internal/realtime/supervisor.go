package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Runner performs one connection attempt. *Client implements it.
type Runner interface {
	Run(ctx context.Context) error
}

// connectedReporter is implemented by runners that know how long their
// last attempt spent connected. Runners without it are measured by wall
// time around Run.
type connectedReporter interface {
	LastConnectedDuration() time.Duration
}

// SupervisorStats holds supervisor counters.
type SupervisorStats struct {
	Attempts  uint64
	Running   bool
	LastDelay time.Duration
	LastError string
	LastKind  ErrorKind
}

// Supervisor keeps a Runner connected, retrying with exponential backoff.
//
// Stop is non-blocking and safe from any goroutine. A stop requested
// while the supervisor sleeps between attempts is observed promptly.
type Supervisor struct {
	runner   Runner
	policy   BackoffPolicy
	observer Observer
	conn     *ConnectionConfig

	stopping atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	attempts  atomic.Uint64
	lastDelay atomic.Int64
	lastMu    sync.Mutex
	lastErr   string
	lastKind  ErrorKind

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSupervisor creates a supervisor. Reconnect notices go to observer,
// which may be nil.
func NewSupervisor(runner Runner, policy BackoffPolicy, observer Observer) *Supervisor {
	if observer == nil {
		observer = NopObserver{}
	}
	if policy.Validate() != nil {
		policy = DefaultBackoffPolicy()
	}
	return &Supervisor{
		runner:   runner,
		policy:   policy,
		observer: observer,
		logger:   noopLogger{},
	}
}

// SetConnectionConfig makes credential changes cut the backoff sleep short
// so new credentials are tried immediately.
func (s *Supervisor) SetConnectionConfig(conn *ConnectionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// SetLogger sets the logger for supervisor events.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

// Start launches the reconnect loop on its own goroutine.
// It returns ErrAlreadyRunning if called more than once.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRunning
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	if s.stopping.Load() {
		cancel()
	}

	go s.loop(ctx)
	return nil
}

// Stop requests the loop to exit and cancels the in-flight attempt.
// It does not wait.
func (s *Supervisor) Stop() {
	s.stopping.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the loop has exited. It returns nil
// before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown stops the loop and waits for it to exit or for ctx to expire.
// An expired wait is logged, not returned: the process is going away.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.Stop()
	done := s.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		s.log().Warn("supervisor did not stop in time", "error", ctx.Err())
	}
	return nil
}

// Stats returns a snapshot of the supervisor counters.
func (s *Supervisor) Stats() SupervisorStats {
	s.lastMu.Lock()
	lastErr, lastKind := s.lastErr, s.lastKind
	s.lastMu.Unlock()

	running := false
	if done := s.Done(); done != nil {
		select {
		case <-done:
		default:
			running = true
		}
	}
	return SupervisorStats{
		Attempts:  s.attempts.Load(),
		Running:   running,
		LastDelay: time.Duration(s.lastDelay.Load()),
		LastError: lastErr,
		LastKind:  lastKind,
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)

	backoff := NewBackoff(s.policy)
	log := s.log()
	log.Info("supervisor started")
	defer log.Info("supervisor stopped")

	for {
		if s.stopped(ctx) {
			return
		}

		changed := s.changes()
		started := time.Now()
		s.attempts.Add(1)
		err := s.runOnce(ctx)

		if s.stopped(ctx) {
			return
		}
		kind := KindOf(err)
		s.recordResult(err, kind)
		if kind == KindCancelled {
			log.Info("attempt cancelled, supervisor exiting")
			return
		}

		connectedFor := time.Since(started)
		if r, ok := s.runner.(connectedReporter); ok {
			connectedFor = r.LastConnectedDuration()
		}

		delay := backoff.Next(connectedFor)
		if kind == KindAuthFailed {
			delay = max(delay, s.policy.authFailureDelay())
		}
		s.lastDelay.Store(int64(delay))

		notice := fmt.Sprintf("Disconnected. Reconnecting in %s...", formatDelay(delay))
		log.Info("reconnect scheduled", "delay", delay.String(), "kind", kind.String())
		s.notify(notice)

		if !s.sleep(ctx, delay, changed) {
			return
		}
	}
}

// runOnce calls the runner, turning a panic into an ordinary failure.
func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: runner panic: %v", ErrConnection, r)
			s.log().Error("runner panic", "panic", r)
		}
	}()
	return s.runner.Run(ctx)
}

// sleep waits for d. It returns false if the supervisor was stopped and
// returns early, with true, when the credentials change.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration, changed <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-changed:
		s.log().Info("hub credentials changed, reconnecting now")
		return true
	}
}

func (s *Supervisor) stopped(ctx context.Context) bool {
	return s.stopping.Load() || ctx.Err() != nil
}

func (s *Supervisor) changes() <-chan struct{} {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Changed()
}

func (s *Supervisor) recordResult(err error, kind ErrorKind) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastKind = kind
	if err != nil {
		s.lastErr = err.Error()
	}
}

func (s *Supervisor) notify(message string) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("observer panic", "panic", r)
		}
	}()
	s.observer.OnError(message)
}

func (s *Supervisor) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
