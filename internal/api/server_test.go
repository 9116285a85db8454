package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/prism-core/internal/infrastructure/config"
	"github.com/nerrad567/prism-core/internal/infrastructure/logging"
	"github.com/nerrad567/prism-core/internal/realtime"
	"github.com/nerrad567/prism-core/internal/relay"
)

// ─── Test helpers ──────────────────────────────────────────────────

type fakeClient struct{ stats realtime.Stats }

func (f fakeClient) Stats() realtime.Stats { return f.stats }

type fakeSupervisor struct{ stats realtime.SupervisorStats }

func (f fakeSupervisor) Stats() realtime.SupervisorStats { return f.stats }

type fakeRelay struct{ stats relay.Stats }

func (f fakeRelay) Stats() relay.Stats { return f.stats }

type fakeBroker bool

func (f fakeBroker) IsConnected() bool { return bool(f) }

func testStatusConfig() config.StatusConfig {
	return config.StatusConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
		Timeouts: config.StatusTimeoutConfig{
			Read:  5,
			Write: 5,
			Idle:  5,
		},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer creates a Server over a fresh tracker and subscription set.
func testServer(t *testing.T, mutate ...func(*Deps)) (*Server, *realtime.StatusTracker, *realtime.Subscriptions) {
	t.Helper()

	tracker := realtime.NewStatusTracker()
	subs := realtime.NewSubscriptions("light.kitchen")

	deps := Deps{
		Config:        testStatusConfig(),
		Logger:        testLogger(),
		Tracker:       tracker,
		Subscriptions: subs,
		Version:       "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, tracker, subs
}

func doRequest(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Constructor Tests ─────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Tracker: realtime.NewStatusTracker(), Subscriptions: realtime.NewSubscriptions()}},
		{"no tracker", Deps{Logger: testLogger(), Subscriptions: realtime.NewSubscriptions()}},
		{"no subscriptions", Deps{Logger: testLogger(), Tracker: realtime.NewStatusTracker()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, tracker, _ := testServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "degraded" || resp["version"] != "test" {
		t.Errorf("health = %v, want degraded/test", resp)
	}

	tracker.OnConnected()
	resp = decode[map[string]any](t, doRequest(t, h, http.MethodGet, "/api/v1/health", ""))
	if resp["status"] != "ok" {
		t.Errorf("status after connect = %v, want ok", resp["status"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRecovery(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := doRequest(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Status Endpoint Tests ─────────────────────────────────────────

func TestStatus(t *testing.T) {
	srv, tracker, _ := testServer(t, func(d *Deps) {
		d.Client = fakeClient{stats: realtime.Stats{
			State:         realtime.StateConnected,
			LastConnected: 12 * time.Second,
		}}
		d.Supervisor = fakeSupervisor{stats: realtime.SupervisorStats{
			Running:   true,
			Attempts:  3,
			LastDelay: 2 * time.Second,
			LastError: "auth_invalid: bad token",
			LastKind:  realtime.KindAuthFailed,
		}}
		d.MQTT = fakeBroker(true)
		d.Relay = fakeRelay{stats: relay.Stats{Published: 7}}
	})
	tracker.OnConnected()
	tracker.OnStateChanged("light.kitchen", realtime.EntityState{State: "on"})

	w := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[StatusResponse](t, w)

	if resp.State != "connected" {
		t.Errorf("State = %q, want connected", resp.State)
	}
	if !resp.Stream.Connected || resp.Stream.StateChanges != 1 {
		t.Errorf("Stream = %+v", resp.Stream)
	}
	if resp.Subscriptions != 1 {
		t.Errorf("Subscriptions = %d, want 1", resp.Subscriptions)
	}
	if resp.Reconnect == nil {
		t.Fatal("Reconnect missing")
	}
	if resp.Reconnect.Attempts != 3 || resp.Reconnect.LastDelaySecs != 2 || resp.Reconnect.LastErrorKind != "auth_failed" {
		t.Errorf("Reconnect = %+v", resp.Reconnect)
	}
	if resp.Reconnect.LastConnectedMs != 12000 {
		t.Errorf("LastConnectedMs = %d, want 12000", resp.Reconnect.LastConnectedMs)
	}
	if resp.MQTT == nil || !resp.MQTT.Connected || resp.MQTT.Published != 7 {
		t.Errorf("MQTT = %+v", resp.MQTT)
	}
}

func TestStatus_Minimal(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := decode[StatusResponse](t, doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/status", ""))
	if resp.State != "disconnected" {
		t.Errorf("State = %q, want disconnected", resp.State)
	}
	if resp.Reconnect != nil || resp.MQTT != nil {
		t.Errorf("optional sections present: %+v", resp)
	}
}

func TestMetrics(t *testing.T) {
	srv, _, _ := testServer(t, func(d *Deps) {
		d.Client = fakeClient{stats: realtime.Stats{FramesReceived: 10, PingsSent: 2}}
	})

	w := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/metrics", "")
	resp := decode[SystemMetrics](t, w)

	if resp.Version != "test" || resp.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", resp)
	}
	if resp.Stream.FramesReceived != 10 || resp.Stream.PingsSent != 2 {
		t.Errorf("Stream = %+v", resp.Stream)
	}
}

// ─── Subscription Endpoint Tests ───────────────────────────────────

func TestSubscriptions(t *testing.T) {
	srv, _, subs := testServer(t)
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantIDs    []string
	}{
		{"list", http.MethodGet, "/api/v1/subscriptions", "", http.StatusOK, []string{"light.kitchen"}},
		{"add", http.MethodPut, "/api/v1/subscriptions/sensor.temp", "", http.StatusOK, []string{"light.kitchen", "sensor.temp"}},
		{"add again", http.MethodPut, "/api/v1/subscriptions/sensor.temp", "", http.StatusOK, []string{"light.kitchen", "sensor.temp"}},
		{"add invalid", http.MethodPut, "/api/v1/subscriptions/not-an-entity", "", http.StatusUnprocessableEntity, []string{"light.kitchen", "sensor.temp"}},
		{"remove", http.MethodDelete, "/api/v1/subscriptions/light.kitchen", "", http.StatusOK, []string{"sensor.temp"}},
		{"remove missing", http.MethodDelete, "/api/v1/subscriptions/light.kitchen", "", http.StatusNotFound, []string{"sensor.temp"}},
		{"replace", http.MethodPut, "/api/v1/subscriptions", `{"entities":["switch.fan","light.hall"]}`, http.StatusOK, []string{"light.hall", "switch.fan"}},
		{"replace bad json", http.MethodPut, "/api/v1/subscriptions", `{`, http.StatusBadRequest, []string{"light.hall", "switch.fan"}},
		{"replace invalid id", http.MethodPut, "/api/v1/subscriptions", `{"entities":["Bad ID"]}`, http.StatusUnprocessableEntity, []string{"light.hall", "switch.fan"}},
		{"clear", http.MethodDelete, "/api/v1/subscriptions", "", http.StatusOK, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}

			got := subs.Snapshot().IDs()
			if strings.Join(got, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("subscriptions = %v, want %v", got, tt.wantIDs)
			}
		})
	}
}

func TestSubscriptions_ClearDisablesFiltering(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.Handler()

	resp := decode[SubscriptionsResponse](t, doRequest(t, h, http.MethodGet, "/api/v1/subscriptions", ""))
	if !resp.Filtering || resp.Count != 1 {
		t.Errorf("before clear = %+v", resp)
	}

	resp = decode[SubscriptionsResponse](t, doRequest(t, h, http.MethodDelete, "/api/v1/subscriptions", ""))
	if resp.Filtering || resp.Count != 0 || resp.Entities == nil {
		t.Errorf("after clear = %+v", resp)
	}
}

func TestSubscriptions_BodyLimit(t *testing.T) {
	srv, _, _ := testServer(t)

	body := `{"entities":["` + strings.Repeat("a", maxRequestBodySize) + `.b"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/subscriptions", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub() *Hub {
	return NewHub(testStatusConfig().WebSocket, testLogger())
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub()

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelStateChanged: {}},
	}
	hub.Register(client)

	hub.OnStateChanged("light.kitchen", realtime.EntityState{State: "on"})

	select {
	case msg := <-client.send:
		var wsMsg struct {
			EventType string              `json:"event_type"`
			Payload   StateChangedPayload `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelStateChanged {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelStateChanged)
		}
		if wsMsg.Payload.EntityID != "light.kitchen" || wsMsg.Payload.NewState.State != "on" {
			t.Errorf("payload = %+v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub()

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelNotification: {}},
	}
	hub.Register(client)

	hub.OnStateChanged("light.kitchen", realtime.EntityState{State: "on"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub()

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Connection Tests ────────────────────────────────────

func connectWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, _, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelNotification, ChannelConnection}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Hub().OnNotification("Home Assistant", "Door open")
	resp = readWS(t, ws)
	if resp.Type != WSTypeEvent || resp.EventType != ChannelNotification {
		t.Errorf("event = %+v", resp)
	}

	// Unsubscribe from notifications; connection events still arrive.
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelNotification}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if resp = readWS(t, ws); resp.ID != "unsub-1" {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	srv.Hub().OnNotification("Home Assistant", "ignored")
	srv.Hub().OnConnected()
	resp = readWS(t, ws)
	if resp.EventType != ChannelConnection {
		t.Errorf("event_type = %q, want %q", resp.EventType, ChannelConnection)
	}
}

func TestWebSocket_ClientMessages(t *testing.T) {
	tests := []struct {
		name     string
		send     []byte
		wantType string
		wantID   string
	}{
		{"ping", []byte(`{"type":"ping","id":"ping-1"}`), WSTypePong, "ping-1"},
		{"invalid json", []byte("not json"), WSTypeError, ""},
		{"unknown type", []byte(`{"type":"unknown_type","id":"x-1"}`), WSTypeError, "x-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := testServer(t)
			ws := connectWebSocket(t, srv)

			if err := ws.WriteMessage(websocket.TextMessage, tt.send); err != nil {
				t.Fatalf("write: %v", err)
			}
			resp := readWS(t, ws)
			if resp.Type != tt.wantType || resp.ID != tt.wantID {
				t.Errorf("response = %+v, want type %q id %q", resp, tt.wantType, tt.wantID)
			}
		})
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServer_StartAndClose(t *testing.T) {
	port := freePort(t)
	srv, _, _ := testServer(t, func(d *Deps) { d.Config.Port = port })

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	var resp *http.Response
	var err error
	for range 50 {
		resp, err = http.Get(addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(addr); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
