// Package control implements the MQTT control plane: JSON commands that
// add, remove and inspect bridge sessions at runtime.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// commandQueueDepth bounds pending commands; extra commands are dropped
const commandQueueDepth = 10

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Callbacks contains callback functions for commands
type Callbacks struct {
	OnGetStatus     func() map[string]interface{}
	OnListSessions  func() interface{}
	OnAddSession    func(sourceTopic, outputTopic string) (string, error) // returns the session id
	OnRemoveSession func(sourceTopic string) error
	OnShutdown      func() error
}

// Config names the topics the handler listens and answers on
type Config struct {
	Topic         string
	ResponseTopic string
	QoS           byte
}

// Handler handles control plane commands
type Handler struct {
	cfg       Config
	client    mqtt.Client
	callbacks Callbacks
	commands  chan Command

	// publish sends a response; replaced in tests
	publish func(topic string, qos byte, payload []byte) error

	stopOnce sync.Once
	done     chan struct{}
}

// NewHandler creates a new control plane handler
func NewHandler(cfg Config, client mqtt.Client, callbacks Callbacks) *Handler {
	h := &Handler{
		cfg:       cfg,
		client:    client,
		callbacks: callbacks,
		commands:  make(chan Command, commandQueueDepth),
		done:      make(chan struct{}),
	}
	h.publish = h.mqttPublish
	return h
}

// Start subscribes to the control topic and starts processing commands
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("subscribing to control plane", "topic", h.cfg.Topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop unsubscribes and stops the command loop. Idempotent.
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.Topic)
			token.WaitTimeout(2 * time.Second)
		}
		close(h.done)
		slog.Info("control plane handler stopped")
	})
	return nil
}

// messageHandler is called by paho when a control message is received
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands handles queued commands one at a time
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command and builds its response
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	fail := func(msg string) Response {
		resp.Status = "error"
		resp.Error = msg
		return resp
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail("get_status not implemented")
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "list_sessions":
		if h.callbacks.OnListSessions == nil {
			return fail("list_sessions not implemented")
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"sessions": h.callbacks.OnListSessions(),
		}

	case "add_session":
		if h.callbacks.OnAddSession == nil {
			return fail("add_session not implemented")
		}
		sourceTopic, ok := cmd.Params["source_topic"].(string)
		if !ok || sourceTopic == "" {
			return fail("missing or invalid 'source_topic' parameter (expected string)")
		}
		// Empty means the default output topic
		outputTopic, _ := cmd.Params["output_topic"].(string)

		id, err := h.callbacks.OnAddSession(sourceTopic, outputTopic)
		if err != nil {
			return fail(err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"session_id":   id,
			"source_topic": sourceTopic,
			"output_topic": outputTopic,
			"message":      "session added",
		}

	case "remove_session":
		if h.callbacks.OnRemoveSession == nil {
			return fail("remove_session not implemented")
		}
		sourceTopic, ok := cmd.Params["source_topic"].(string)
		if !ok || sourceTopic == "" {
			return fail("missing or invalid 'source_topic' parameter (expected string)")
		}
		if err := h.callbacks.OnRemoveSession(sourceTopic); err != nil {
			return fail(err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"source_topic": sourceTopic,
			"message":      "session removed",
		}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return fail("shutdown not implemented")
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}

		// Respond first; shutdown tears down the client
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()

	default:
		return fail(fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	return resp
}

// sendResponse publishes a response on the response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.publish(h.cfg.ResponseTopic, h.cfg.QoS, payload); err != nil {
		slog.Error("failed to publish response", "command_ack", resp.CommandAck, "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) mqttPublish(topic string, qos byte, payload []byte) error {
	if h.client == nil {
		return fmt.Errorf("mqtt client not configured")
	}
	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("response publish timeout")
	}
	return token.Error()
}
