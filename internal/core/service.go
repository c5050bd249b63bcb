// Package core wires the bridge together: transport, publisher, manager,
// control plane and health server, plus the run/shutdown lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-bridge/internal/bridge"
	"github.com/e7canasta/orion-bridge/internal/config"
	"github.com/e7canasta/orion-bridge/internal/control"
	"github.com/e7canasta/orion-bridge/internal/envelope"
	"github.com/e7canasta/orion-bridge/internal/publisher"
	"github.com/e7canasta/orion-bridge/internal/source"
)

// Service is the main bridge orchestrator
type Service struct {
	cfg *config.Config

	// Core components
	transport source.Transport
	publisher publisher.Publisher
	mqttPub   *publisher.MQTTPublisher // set when the mqtt backend is used
	manager   *bridge.Manager

	controlClient  mqtt.Client
	controlHandler *control.Handler
	healthServer   *http.Server

	// pubCancel releases the publisher socket context
	pubCancel context.CancelFunc

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // for the control plane shutdown command
}

// NewService builds every component from cfg. The publisher socket is bound
// here so address errors surface before Run.
func NewService(cfg *config.Config) (*Service, error) {
	transport, err := buildTransport(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to create source transport: %w", err)
	}

	pubCtx, pubCancel := context.WithCancel(context.Background())

	var (
		pub     publisher.Publisher
		mqttPub *publisher.MQTTPublisher
	)
	switch cfg.Publish.Backend {
	case "mqtt":
		mqttPub = publisher.NewMQTTPublisher(publisher.MQTTConfig{
			Broker:     cfg.Publish.MQTT.Broker,
			ClientID:   cfg.Publish.MQTT.ClientID,
			QoS:        cfg.Publish.MQTT.QoS,
			QueueDepth: cfg.Publish.QueueDepth,
		})
		pub = mqttPub
	default:
		zmqPub, err := publisher.NewZMQPublisher(pubCtx, publisher.ZMQConfig{
			Address:    cfg.Publish.Address,
			QueueDepth: cfg.Publish.QueueDepth,
		})
		if err != nil {
			pubCancel()
			return nil, fmt.Errorf("failed to create zmq publisher: %w", err)
		}
		pub = zmqPub
	}

	s, err := newService(cfg, transport, pub)
	if err != nil {
		_ = pub.Close()
		pubCancel()
		return nil, err
	}
	s.mqttPub = mqttPub
	s.pubCancel = pubCancel

	return s, nil
}

// newService assembles a service around an existing transport and publisher
func newService(cfg *config.Config, transport source.Transport, pub publisher.Publisher) (*Service, error) {
	enc, err := envelope.NewEncoder(envelope.Format(cfg.Publish.Envelope))
	if err != nil {
		return nil, err
	}

	manager, err := bridge.NewManager(transport, pub, bridge.Options{
		Encoder:            enc,
		DefaultOutputTopic: config.DefaultOutputTopic,
		Logger:             slog.Default().With("component", "bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge manager: %w", err)
	}

	slog.Info("bridge configured",
		"instance_id", cfg.InstanceID,
		"transport", cfg.Source.Transport,
		"backend", cfg.Publish.Backend,
		"envelope", enc.Format(),
		"queue_depth", cfg.Publish.QueueDepth,
		"sessions", len(cfg.Sessions),
	)

	return &Service{
		cfg:       cfg,
		transport: transport,
		publisher: pub,
		manager:   manager,
		pubCancel: func() {},
	}, nil
}

func buildTransport(cfg config.SourceConfig) (source.Transport, error) {
	switch cfg.Transport {
	case "gstreamer":
		return source.NewGStreamer(source.GStreamerConfig{Pipelines: cfg.GStreamer})
	default:
		feeds := make(map[string]source.MockFeed, len(cfg.Mock))
		for topic, f := range cfg.Mock {
			feeds[topic] = source.MockFeed{
				Width:      f.Width,
				Height:     f.Height,
				FormatCode: f.FormatCode,
				FPS:        f.FPS,
			}
		}
		slog.Info("using mock source transport", "feeds", len(feeds))
		return source.NewMock(feeds), nil
	}
}

// Manager exposes the bridge manager
func (s *Service) Manager() *bridge.Manager {
	return s.manager
}

// Run adds the configured sessions and blocks until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelCtx = cancel

	// Registered under the lock so Shutdown never waits on a half-started group
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.manager.StartStatsLogger(ctx, time.Duration(s.cfg.StatsIntervalS)*time.Second)
	}()
	s.mu.Unlock()

	slog.Info("orion bridge starting", "instance_id", s.cfg.InstanceID)

	if s.mqttPub != nil {
		if err := s.mqttPub.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt publisher: %w", err)
		}
	}

	// A failed session is logged; the others keep running
	active := 0
	for _, sc := range s.cfg.Sessions {
		h, err := s.manager.AddSession(sc.SourceTopic, sc.OutputTopic)
		if err != nil {
			slog.Error("failed to add session",
				"source_topic", sc.SourceTopic,
				"output_topic", sc.OutputTopic,
				"error", err,
			)
			continue
		}
		active++
		slog.Debug("session ready", "session_id", h.ID.String(), "source_topic", h.SourceTopic)
	}

	if s.cfg.Control.Enabled {
		if err := s.startControlPlane(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	slog.Info("orion bridge running",
		"sessions_active", active,
		"sessions_configured", len(s.cfg.Sessions),
		"control_plane", s.cfg.Control.Enabled,
	)

	<-ctx.Done()

	slog.Info("orion bridge run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		// Never ran: still release the socket
		err := s.manager.Close()
		s.pubCancel()
		return err
	}
	cancel := s.cancelCtx
	s.mu.Unlock()

	slog.Info("shutting down orion bridge")

	if cancel != nil {
		cancel()
	}

	var errs []error

	// 1. Stop control plane (no new sessions)
	s.mu.RLock()
	handler, client := s.controlHandler, s.controlClient
	s.mu.RUnlock()
	if handler != nil {
		if err := handler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop control handler: %w", err))
		}
	}
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}

	// 2. Unsubscribe every session, then release the publisher
	if err := s.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bridge manager: %w", err))
	}
	s.pubCancel()

	// 3. Wait for goroutines to finish (without holding the lock)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timed out waiting for goroutines: %w", ctx.Err()))
	}

	// 4. Health server last, so readiness reports the shutdown
	s.mu.RLock()
	hs := s.healthServer
	s.mu.RUnlock()
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop health server: %w", err))
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("orion bridge shutdown complete", "uptime", uptime)
	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

// GetStatus returns the current status of the service
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	stats := s.manager.Stats()

	var uptime float64
	if running {
		uptime = time.Since(started).Seconds()
	}

	return map[string]interface{}{
		"instance_id":     s.cfg.InstanceID,
		"uptime_s":        uptime,
		"running":         running,
		"sessions":        len(stats.Sessions),
		"publisher_sent":  stats.Publisher.Sent,
		"publisher_drops": stats.Publisher.Dropped,
		"envelope":        s.cfg.Publish.Envelope,
		"backend":         s.cfg.Publish.Backend,
	}
}
