package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts and limits for the hub connection.
const (
	// DefaultPollInterval is how long the receive loop waits for a frame
	// before sending a keepalive ping.
	DefaultPollInterval = 5 * time.Second

	// defaultConnectTimeout bounds the TCP, TLS and upgrade phases.
	defaultConnectTimeout = 10 * time.Second

	// defaultHandshakeTimeout bounds each wait for an auth frame.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultWriteTimeout is the deadline applied to every outbound frame.
	defaultWriteTimeout = 5 * time.Second

	// defaultMaxMessageSize caps inbound frames. A full state dump from a
	// large installation runs to several megabytes.
	defaultMaxMessageSize = 16 << 20

	// closeGracePeriod bounds the close frame sent during teardown.
	closeGracePeriod = time.Second
)

// ClientConfig holds tuning for Client. Zero values select the defaults.
type ClientConfig struct {
	// PollInterval is the idle time after which a ping is sent.
	// Default: 5 seconds.
	PollInterval time.Duration

	// ConnectTimeout bounds dialling the hub.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds each wait for auth_required and auth_ok.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the deadline for each outbound frame.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize caps inbound frames in bytes.
	// Default: 16 MiB.
	MaxMessageSize int64

	// Dialer overrides the websocket dialer, e.g. to supply a TLS config.
	Dialer *websocket.Dialer
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

// Stats holds client counters.
type Stats struct {
	Attempts        uint64
	Connections     uint64
	FramesReceived  uint64
	EventsDelivered uint64
	PingsSent       uint64
	FramesDropped   uint64
	State           ClientState
	ConnectedSince  time.Time
	LastConnected   time.Duration
}

// Client runs connection attempts against the hub. Each call to Run is one
// attempt: dial, authenticate, subscribe, then receive until the socket
// closes or ctx is cancelled. Client never retries on its own; see
// Supervisor.
//
// Thread Safety: Run must not be called concurrently. Every other method is
// safe for concurrent use.
type Client struct {
	cfg      ClientConfig
	conn     *ConnectionConfig
	router   *Router
	observer Observer

	running atomic.Bool
	state   atomic.Int32

	// Live socket of the current attempt, closed on credential change.
	sockMu       sync.Mutex
	sock         *websocket.Conn
	reconfigured bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// Statistics
	attempts       atomic.Uint64
	connections    atomic.Uint64
	framesRx       atomic.Uint64
	eventsTx       atomic.Uint64
	pingsTx        atomic.Uint64
	framesDropped  atomic.Uint64
	connectedSince atomic.Int64
	lastConnected  atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a client. subs filters state changes; observer receives
// every event on the client's goroutine and may be nil.
func NewClient(cfg ClientConfig, conn *ConnectionConfig, subs *Subscriptions, observer Observer) *Client {
	if conn == nil {
		conn = NewConnectionConfig("", "")
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Client{
		cfg:      cfg.withDefaults(),
		conn:     conn,
		router:   NewRouter(subs),
		observer: observer,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for client events.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// State returns the state of the current attempt.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// IsConnected reports whether the handshake has completed on a live socket.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// LastConnectedDuration returns how long the most recent attempt spent in
// the connected state. It is zero if the attempt never got that far.
func (c *Client) LastConnectedDuration() time.Duration {
	return time.Duration(c.lastConnected.Load())
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Attempts:        c.attempts.Load(),
		Connections:     c.connections.Load(),
		FramesReceived:  c.framesRx.Load(),
		EventsDelivered: c.eventsTx.Load(),
		PingsSent:       c.pingsTx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		State:           c.State(),
		LastConnected:   c.LastConnectedDuration(),
	}
	if since := c.connectedSince.Load(); since != 0 {
		s.ConnectedSince = time.Unix(0, since)
	}
	return s
}

// Stop cancels the in-flight attempt, if any, and returns immediately.
func (c *Client) Stop() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run performs one connection attempt and blocks until it ends.
//
// The returned error is never nil. Cancellation of ctx, or Stop, yields
// ErrCancelled; that case is not reported to the observer. Every other
// failure is reported once through OnError before Run returns.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.attempts.Add(1)
	c.lastConnected.Store(0)

	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer func() {
		c.cancelMu.Lock()
		c.cancel = nil
		c.cancelMu.Unlock()
		cancel()
	}()

	unregister := c.conn.onChange(c.dropSocket)
	defer unregister()

	c.setState(StateConnecting)
	defer c.setState(StateDisconnected)

	s, err := c.open(ctx)
	if err != nil {
		return c.finish(ctx, err)
	}

	connected := false
	err = c.handshake(ctx, s)
	if err == nil {
		connected = true
		c.markConnected()
		err = c.receive(ctx, s)
	}
	err = c.finish(ctx, err)

	c.setState(StateClosing)
	c.detach(s)
	if connected {
		c.markDisconnected()
	}
	return err
}

// open dials the hub and registers the socket as the live one.
func (c *Client) open(ctx context.Context) (*session, error) {
	creds := c.conn.Snapshot()
	if !creds.Complete() {
		return nil, ErrMissingConfig
	}
	wsURL, err := RealtimeURL(creds.Endpoint)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.logDebug("connecting to hub", "url", wsURL)
	ws, _, err := c.dialer().DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, wsURL, err)
	}
	ws.SetReadLimit(c.cfg.MaxMessageSize)

	s := newSession(ws, creds.Token, c.cfg.WriteTimeout)

	c.sockMu.Lock()
	c.sock = ws
	c.reconfigured = false
	c.sockMu.Unlock()

	// Credentials may have changed between the snapshot and registration,
	// in which case no listener saw this socket.
	if c.conn.Snapshot().Version != creds.Version {
		c.detach(s)
		return nil, ErrConfigChanged
	}

	s.start()
	return s, nil
}

func (c *Client) dialer() *websocket.Dialer {
	if c.cfg.Dialer != nil {
		return c.cfg.Dialer
	}
	return &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: c.cfg.ConnectTimeout,
	}
}

// handshake performs auth then subscribes to both event types.
func (c *Client) handshake(ctx context.Context, s *session) error {
	c.setState(StateAwaitingAuth)

	env, err := c.await(ctx, s, typeAuthRequired)
	if err != nil {
		return err
	}
	if env.Kind() != MessageAuthRequired {
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocol, typeAuthRequired, env.Type)
	}

	if err := s.write(authMessage{Type: typeAuth, AccessToken: s.token}); err != nil {
		return fmt.Errorf("%w: send auth: %w", ErrConnection, err)
	}

	env, err = c.await(ctx, s, typeAuthOK)
	if errors.Is(err, ErrProtocol) {
		// Anything but a readable auth_ok is a rejection.
		return fmt.Errorf("%w: unreadable reply: %w", ErrAuthFailed, err)
	}
	if err != nil {
		return err
	}
	if env.Kind() != MessageAuthOK {
		reason := env.Message
		if reason == "" {
			reason = fmt.Sprintf("unexpected %q", env.Type)
		}
		return fmt.Errorf("%w: %s", ErrAuthFailed, reason)
	}

	c.setState(StateSubscribing)
	for _, eventType := range []string{EventStateChanged, EventCallService} {
		msg := subscribeEventsMessage{ID: s.nextID(), Type: typeSubscribeEvents, EventType: eventType}
		if err := s.write(msg); err != nil {
			return fmt.Errorf("%w: subscribe %s: %w", ErrConnection, eventType, err)
		}
	}
	return nil
}

// await waits for the next handshake frame.
func (c *Client) await(ctx context.Context, s *session, want string) (Envelope, error) {
	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-timer.C:
		return Envelope{}, fmt.Errorf("%w: timed out waiting for %s", ErrConnection, want)
	case f := <-s.frames:
		if f.err != nil {
			return Envelope{}, c.readError(f.err)
		}
		c.framesRx.Add(1)
		env, err := DecodeEnvelope(f.data)
		if err != nil {
			return Envelope{}, err
		}
		return env, nil
	}
}

// receive pumps frames into the router until the socket fails or ctx is
// cancelled. It never returns nil.
func (c *Client) receive(ctx context.Context, s *session) error {
	poll := time.NewTimer(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-s.frames:
			if f.err != nil {
				return c.readError(f.err)
			}
			c.handleFrame(f.data)
			poll.Reset(c.cfg.PollInterval)

		case <-poll.C:
			if err := s.write(pingMessage{ID: s.nextID(), Type: typePing}); err != nil {
				return fmt.Errorf("%w: ping: %w", ErrConnection, err)
			}
			c.pingsTx.Add(1)
			poll.Reset(c.cfg.PollInterval)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	c.framesRx.Add(1)

	events, err := c.router.ClassifyFrame(data)
	if err != nil {
		c.framesDropped.Add(1)
		c.logDebug("dropping malformed frame", "error", err)
		return
	}
	for _, ev := range events {
		c.deliver(ev)
		c.eventsTx.Add(1)
	}
}

// readError maps a reader failure onto the sentinel set.
func (c *Client) readError(err error) error {
	c.sockMu.Lock()
	reconfigured := c.reconfigured
	c.sockMu.Unlock()
	if reconfigured {
		return ErrConfigChanged
	}
	return fmt.Errorf("%w: read: %w", ErrConnection, err)
}

// finish normalises the attempt's error and reports it unless the attempt
// was stopped on request.
func (c *Client) finish(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	if err == nil {
		err = ErrConnection
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.logWarn("hub connection attempt ended", "kind", KindOf(err).String(), "error", err)
	c.deliver(ErrorEvent{Message: err.Error()})
	return err
}

func (c *Client) markConnected() {
	c.connections.Add(1)
	c.connectedSince.Store(time.Now().UnixNano())
	c.setState(StateConnected)
	c.logInfo("connected to hub")
	c.deliver(ConnectedEvent{})
}

func (c *Client) markDisconnected() {
	if since := c.connectedSince.Swap(0); since != 0 {
		c.lastConnected.Store(int64(time.Since(time.Unix(0, since))))
	}
	c.logInfo("disconnected from hub", "connected_for", c.LastConnectedDuration().String())
	c.deliver(DisconnectedEvent{})
}

// deliver calls the observer, containing any panic so a faulty observer
// cannot take the attempt down with it.
func (c *Client) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("observer panic", fmt.Errorf("%v", r))
		}
	}()
	Deliver(ev, c.observer)
}

// dropSocket closes the live socket after a credential change.
func (c *Client) dropSocket() {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	if c.sock == nil {
		return
	}
	c.reconfigured = true
	c.logInfo("hub credentials changed, closing connection")
	_ = c.sock.Close()
}

// detach closes the session and clears the live socket.
func (c *Client) detach(s *session) {
	c.sockMu.Lock()
	if c.sock == s.ws {
		c.sock = nil
	}
	c.sockMu.Unlock()
	s.close()
}

func (c *Client) setState(st ClientState) {
	c.state.Store(int32(st))
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.log().Debug(msg, keysAndValues...)
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.log().Info(msg, keysAndValues...)
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.log().Warn(msg, keysAndValues...)
}

func (c *Client) logError(msg string, err error) {
	c.log().Error(msg, "error", err)
}

// frame is one result of a socket read.
type frame struct {
	data []byte
	err  error
}

// session is the per-attempt socket state: the connection, its id counter
// and the reader goroutine feeding frames.
type session struct {
	ws           *websocket.Conn
	token        string
	writeTimeout time.Duration

	// lastID is only touched by the goroutine running the attempt.
	lastID int64

	frames    chan frame
	stop      *closeOnce
	readerEnd chan struct{}
	closeOnce sync.Once
	started   bool
}

func newSession(ws *websocket.Conn, token string, writeTimeout time.Duration) *session {
	return &session{
		ws:           ws,
		token:        token,
		writeTimeout: writeTimeout,
		frames:       make(chan frame),
		stop:         newCloseOnce(),
		readerEnd:    make(chan struct{}),
	}
}

// start launches the reader goroutine.
func (s *session) start() {
	s.started = true
	go s.read()
}

func (s *session) read() {
	defer close(s.readerEnd)
	for {
		msgType, data, err := s.ws.ReadMessage()
		if err == nil && msgType != websocket.TextMessage {
			continue
		}
		select {
		case s.frames <- frame{data: data, err: err}:
		case <-s.stop.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// nextID returns the id for the next outbound command.
func (s *session) nextID() int64 {
	s.lastID++
	return s.lastID
}

func (s *session) write(v any) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.ws.WriteJSON(v)
}

// close sends a best-effort close frame, closes the socket and waits for
// the reader to exit. Safe to call more than once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.stop.Close()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		_ = s.ws.Close()
		if s.started {
			<-s.readerEnd
		}
	})
}
