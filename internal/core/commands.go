package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-bridge/internal/bridge"
	"github.com/e7canasta/orion-bridge/internal/control"
)

// startControlPlane connects the control client and starts the command handler
func (s *Service) startControlPlane(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Control.Broker))
	opts.SetClientID(s.cfg.Control.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("control plane connection lost, will auto-reconnect", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	handler := control.NewHandler(control.Config{
		Topic:         s.cfg.Control.Topic,
		ResponseTopic: s.cfg.Control.ResponseTopic,
		QoS:           s.cfg.Control.QoS,
	}, client, s.controlCallbacks())

	if err := handler.Start(ctx); err != nil {
		client.Disconnect(250)
		return err
	}

	s.mu.Lock()
	s.controlClient = client
	s.controlHandler = handler
	s.mu.Unlock()
	return nil
}

func (s *Service) controlCallbacks() control.Callbacks {
	return control.Callbacks{
		OnGetStatus:     s.GetStatus,
		OnListSessions:  func() interface{} { return s.manager.Sessions() },
		OnAddSession:    s.addSession,
		OnRemoveSession: s.removeSession,
		OnShutdown:      s.shutdownViaControl,
	}
}

// addSession adds a session at runtime and returns its id
func (s *Service) addSession(sourceTopic, outputTopic string) (string, error) {
	h, err := s.manager.AddSession(sourceTopic, outputTopic)
	if err != nil {
		return "", err
	}
	return h.ID.String(), nil
}

// removeSession removes the live session for sourceTopic
func (s *Service) removeSession(sourceTopic string) error {
	sess, ok := s.manager.Session(sourceTopic)
	if !ok {
		return fmt.Errorf("%w: %s", bridge.ErrSessionNotFound, sourceTopic)
	}
	return s.manager.RemoveSession(bridge.SessionHandle{ID: sess.ID(), SourceTopic: sourceTopic})
}

// shutdownViaControl cancels the run context; main performs the graceful shutdown
func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service is not running")
	}
	cancel()
	return nil
}

// brokerURL accepts bare host:port like the publisher does
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
