package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Stream        StreamMetrics  `json:"stream"`
	MQTT          *MQTTStatus    `json:"mqtt,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains local WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// StreamMetrics contains hub event client counters.
type StreamMetrics struct {
	Attempts        uint64 `json:"attempts"`
	Connections     uint64 `json:"connections"`
	FramesReceived  uint64 `json:"frames_received"`
	FramesDropped   uint64 `json:"frames_dropped"`
	EventsDelivered uint64 `json:"events_delivered"`
	PingsSent       uint64 `json:"pings_sent"`
}

// handleMetrics returns runtime and event stream counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		MQTT: s.mqttStatus(),
	}

	if s.client != nil {
		st := s.client.Stats()
		metrics.Stream = StreamMetrics{
			Attempts:        st.Attempts,
			Connections:     st.Connections,
			FramesReceived:  st.FramesReceived,
			FramesDropped:   st.FramesDropped,
			EventsDelivered: st.EventsDelivered,
			PingsSent:       st.PingsSent,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
