package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/orion-bridge/internal/bridge"
)

// SessionHealthMetrics contains health metrics for one session
type SessionHealthMetrics struct {
	OutputTopic    string    `json:"output_topic"`
	State          string    `json:"state"`
	FramesReceived uint64    `json:"frames_received"`
	FramesSent     uint64    `json:"frames_published"`
	ConvertErrors  uint64    `json:"convert_errors"`
	Backpressure   uint64    `json:"backpressure_drops"`
	DropRate       float64   `json:"drop_rate"`
	SourceFPS      float64   `json:"source_fps"`
	SourceStable   bool      `json:"source_stable"`
	LastFrameAt    time.Time `json:"last_frame_at,omitempty"`
}

// HealthStatus represents the health state of the bridge
type HealthStatus struct {
	Status          string                          `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64                           `json:"uptime_seconds"`
	SessionsRunning int                             `json:"sessions_running"`
	SessionsTotal   int                             `json:"sessions_total"`
	PublisherDepth  int                             `json:"publisher_queue_depth"`
	Sessions        map[string]SessionHealthMetrics `json:"sessions,omitempty"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	stats := s.manager.Stats()

	status := HealthStatus{
		Status:         "healthy",
		SessionsTotal:  len(stats.Sessions),
		PublisherDepth: stats.Publisher.Depth,
		Sessions:       make(map[string]SessionHealthMetrics, len(stats.Sessions)),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	for _, sess := range stats.Sessions {
		if sess.State == bridge.StateRunning.String() {
			status.SessionsRunning++
		}
		status.Sessions[sess.SourceTopic] = SessionHealthMetrics{
			OutputTopic:    sess.OutputTopic,
			State:          sess.State,
			FramesReceived: sess.Received,
			FramesSent:     sess.Published,
			ConvertErrors:  sess.ConvertErrors,
			Backpressure:   sess.Backpressure,
			DropRate:       bridge.DropRate(sess),
			SourceFPS:      sess.Rate.FPSMean,
			SourceStable:   sess.Rate.IsStable,
			LastFrameAt:    sess.LastFrameAt,
		}
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case status.SessionsRunning == 0:
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readiness (detailed readiness check).
// Degraded still answers 200; unhealthy answers 503.
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics with plain-text counters in exposition format
func (s *Service) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	stats := s.manager.Stats()
	inst := s.cfg.InstanceID

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	var uptime float64
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}

	fmt.Fprintf(w, "orion_bridge_uptime_seconds{instance=%q} %.0f\n", inst, uptime)
	fmt.Fprintf(w, "orion_bridge_sessions{instance=%q} %d\n", inst, len(stats.Sessions))
	fmt.Fprintf(w, "orion_bridge_publisher_enqueued_total{instance=%q} %d\n", inst, stats.Publisher.Enqueued)
	fmt.Fprintf(w, "orion_bridge_publisher_sent_total{instance=%q} %d\n", inst, stats.Publisher.Sent)
	fmt.Fprintf(w, "orion_bridge_publisher_dropped_total{instance=%q} %d\n", inst, stats.Publisher.Dropped)
	fmt.Fprintf(w, "orion_bridge_publisher_write_errors_total{instance=%q} %d\n", inst, stats.Publisher.WriteErrors)

	for _, sess := range stats.Sessions {
		labels := fmt.Sprintf("instance=%q,source_topic=%q,output_topic=%q", inst, sess.SourceTopic, sess.OutputTopic)
		fmt.Fprintf(w, "orion_bridge_frames_received_total{%s} %d\n", labels, sess.Received)
		fmt.Fprintf(w, "orion_bridge_frames_published_total{%s} %d\n", labels, sess.Published)
		fmt.Fprintf(w, "orion_bridge_convert_errors_total{%s} %d\n", labels, sess.ConvertErrors)
		fmt.Fprintf(w, "orion_bridge_backpressure_drops_total{%s} %d\n", labels, sess.Backpressure)
		fmt.Fprintf(w, "orion_bridge_route_errors_total{%s} %d\n", labels, sess.RouteErrors)
		fmt.Fprintf(w, "orion_bridge_source_fps{%s} %.2f\n", labels, sess.Rate.FPSMean)
	}
}

// healthMux registers the health endpoints
func (s *Service) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)
	return mux
}

// StartHealthServer starts the HTTP health check server on the given port.
// Does not block.
func (s *Service) StartHealthServer(port string) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      s.healthMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	s.mu.Lock()
	s.healthServer = server
	s.mu.Unlock()

	return nil
}
