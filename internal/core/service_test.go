package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-bridge/internal/bridge"
	"github.com/e7canasta/orion-bridge/internal/config"
)

const (
	camA = "/gazebo/default/robot_a/camera/image"
	camB = "/gazebo/default/robot_b/camera/image"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		InstanceID: "bridge-test",
		Source: config.SourceConfig{
			Transport: "mock",
			Mock: map[string]config.MockFeedConfig{
				camA: {Width: 8, Height: 4, FormatCode: 4, FPS: 100},
			},
		},
		Publish: config.PublishConfig{
			Address: "tcp://127.0.0.1:0",
		},
		Sessions: []config.SessionConfig{
			{SourceTopic: camA, OutputTopic: "cam/a"},
		},
		StatsIntervalS: 1,
	}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func startService(t *testing.T, cfg *config.Config) (*Service, <-chan error) {
	t.Helper()

	s, err := NewService(cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, errCh
}

func TestService_RunPublishesAndShutsDown(t *testing.T) {
	s, errCh := startService(t, testConfig(t))

	require.Eventually(t, func() bool {
		sessions := s.Manager().Sessions()
		return len(sessions) == 1 && sessions[0].Published > 0
	}, 3*time.Second, 10*time.Millisecond)

	health := s.HealthCheck()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.SessionsRunning)
	assert.Contains(t, health.Sessions, camA)

	status := s.GetStatus()
	assert.Equal(t, "bridge-test", status["instance_id"])
	assert.Equal(t, true, status["running"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	assert.Empty(t, s.Manager().Sessions())
	assert.Equal(t, "unhealthy", s.HealthCheck().Status)
}

func TestService_FailedSessionDoesNotStopOthers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions = append(cfg.Sessions, config.SessionConfig{SourceTopic: camB, OutputTopic: "cam/b"})
	// camB has no feed, so its subscription fails
	delete(cfg.Source.Mock, camB)

	s, _ := startService(t, cfg)

	require.Eventually(t, func() bool {
		sessions := s.Manager().Sessions()
		return len(sessions) == 1 && sessions[0].Published > 0
	}, 3*time.Second, 10*time.Millisecond)

	_, ok := s.Manager().Session(camB)
	assert.False(t, ok)
}

func TestService_ControlCallbacks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Mock[camB] = config.MockFeedConfig{Width: 4, Height: 4, FormatCode: 1}

	s, _ := startService(t, cfg)
	require.Eventually(t, func() bool { return len(s.Manager().Sessions()) == 1 }, 3*time.Second, 10*time.Millisecond)

	id, err := s.addSession(camB, "cam/b")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.addSession(camB, "cam/b")
	assert.Error(t, err)

	require.NoError(t, s.removeSession(camB))
	assert.ErrorIs(t, s.removeSession(camB), bridge.ErrSessionNotFound)

	cb := s.controlCallbacks()
	sessions, ok := cb.OnListSessions().([]bridge.SessionStats)
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestService_ShutdownViaControl(t *testing.T) {
	s, errCh := startService(t, testConfig(t))
	require.Eventually(t, func() bool { return len(s.Manager().Sessions()) == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, s.shutdownViaControl())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown command")
	}
}

func TestService_HealthEndpoints(t *testing.T) {
	s, _ := startService(t, testConfig(t))
	require.Eventually(t, func() bool {
		sessions := s.Manager().Sessions()
		return len(sessions) == 1 && sessions[0].Published > 0
	}, 3*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(s.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readiness")
	require.NoError(t, err)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)

	rec := httptest.NewRecorder()
	s.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `orion_bridge_frames_published_total{instance="bridge-test",source_topic="`+camA)
	assert.Contains(t, rec.Body.String(), "orion_bridge_publisher_sent_total")
}

func TestService_ReadinessDegradedWithoutSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions[0].SourceTopic = camB // no feed: subscription fails
	delete(cfg.Source.Mock, camB)

	s, _ := startService(t, cfg)
	require.Eventually(t, func() bool { return s.HealthCheck().Status != "unhealthy" }, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "degraded", s.HealthCheck().Status)

	rec := httptest.NewRecorder()
	s.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_ShutdownWithoutRun(t *testing.T) {
	s, err := NewService(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 5*time.Second, s.ShutdownTimeout())
}

func TestService_InvalidAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Publish.Address = "bogus://nowhere"

	_, err := NewService(cfg)
	assert.Error(t, err)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ws://broker:9001", brokerURL("ws://broker:9001"))
}
