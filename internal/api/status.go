package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/prism-core/internal/realtime"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version       string           `json:"version"`
	State         string           `json:"state"`
	Stream        realtime.Status  `json:"stream"`
	Reconnect     *ReconnectStatus `json:"reconnect,omitempty"`
	Subscriptions int              `json:"subscriptions"`
	MQTT          *MQTTStatus      `json:"mqtt,omitempty"`
}

// ReconnectStatus summarises the supervisor.
type ReconnectStatus struct {
	Running         bool    `json:"running"`
	Attempts        uint64  `json:"attempts"`
	LastDelaySecs   float64 `json:"last_delay_seconds"`
	LastError       string  `json:"last_error,omitempty"`
	LastErrorKind   string  `json:"last_error_kind,omitempty"`
	LastConnectedMs int64   `json:"last_connected_ms"`
}

// MQTTStatus summarises the MQTT relay.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

// handleStatus reports the hub event stream as seen by the tracker, the
// client and the supervisor.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:       s.version,
		State:         realtime.StateDisconnected.String(),
		Stream:        s.tracker.Status(),
		Subscriptions: s.subs.Len(),
		MQTT:          s.mqttStatus(),
	}

	var lastConnected time.Duration
	if s.client != nil {
		stats := s.client.Stats()
		resp.State = stats.State.String()
		lastConnected = stats.LastConnected
	}

	if s.supervisor != nil {
		st := s.supervisor.Stats()
		resp.Reconnect = &ReconnectStatus{
			Running:         st.Running,
			Attempts:        st.Attempts,
			LastDelaySecs:   st.LastDelay.Seconds(),
			LastError:       st.LastError,
			LastConnectedMs: lastConnected.Milliseconds(),
		}
		if st.LastKind != realtime.KindNone {
			resp.Reconnect.LastErrorKind = st.LastKind.String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) mqttStatus() *MQTTStatus {
	if s.mqtt == nil && s.relay == nil {
		return nil
	}
	st := &MQTTStatus{}
	if s.mqtt != nil {
		st.Connected = s.mqtt.IsConnected()
	}
	if s.relay != nil {
		rs := s.relay.Stats()
		st.Published = rs.Published
		st.Skipped = rs.Skipped
		st.Failed = rs.Failed
	}
	return st
}
