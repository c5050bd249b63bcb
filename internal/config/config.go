package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. ORION_BRIDGE_PUBLISH_ADDRESS
const EnvPrefix = "ORION_BRIDGE_"

// Defaults for a single-camera bridge
const (
	DefaultSourceTopic  = "/gazebo/default/iris_demo/iris_demo/gimbal_small_2d/tilt_link/camera/image"
	DefaultAddress      = "tcp://*:5556"
	DefaultOutputTopic  = "camera/image"
	DefaultInstanceID   = "orion-bridge"
	DefaultHealthPort   = "8080"
	DefaultEnvelope     = "map"
	DefaultQueueDepth   = 8
	DefaultShutdownS    = 5
	DefaultStatsS       = 10
	DefaultMockFPS      = 10
	DefaultMockWidth    = 320
	DefaultMockHeight   = 240
	DefaultMockFormat   = 3 // BGR_INT8
	DefaultMQTTClientID = "orion-bridge"
)

// Config represents the complete bridge configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id" env:"INSTANCE_ID"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s" env:"SHUTDOWN_TIMEOUT_S"` // Graceful shutdown timeout in seconds (default: 5)
	StatsIntervalS   int             `yaml:"stats_interval_s" env:"STATS_INTERVAL_S"`     // Stats log period in seconds (default: 10)
	Source           SourceConfig    `yaml:"source" envPrefix:"SOURCE_"`
	Publish          PublishConfig   `yaml:"publish" envPrefix:"PUBLISH_"`
	Sessions         []SessionConfig `yaml:"sessions"`
	Control          ControlConfig   `yaml:"control" envPrefix:"CONTROL_"`
	Health           HealthConfig    `yaml:"health" envPrefix:"HEALTH_"`
}

// SourceConfig selects and configures the inbound transport
type SourceConfig struct {
	Transport string                    `yaml:"transport" env:"TRANSPORT"` // mock, gstreamer
	Mock      map[string]MockFeedConfig `yaml:"mock"`                      // topic -> synthetic feed
	GStreamer map[string]string         `yaml:"gstreamer"`                 // topic -> launch description
}

// MockFeedConfig describes one synthetic camera
type MockFeedConfig struct {
	Width      uint32  `yaml:"width"`
	Height     uint32  `yaml:"height"`
	FormatCode uint32  `yaml:"format_code"` // 0/3 BGR, 4 RGB, 1 gray
	FPS        float64 `yaml:"fps"`
}

// PublishConfig configures the outbound publisher
type PublishConfig struct {
	Backend    string            `yaml:"backend" env:"BACKEND"`         // zmq, mqtt
	Address    string            `yaml:"address" env:"ADDRESS"`         // zmq bind address
	Envelope   string            `yaml:"envelope" env:"ENVELOPE"`       // map, bin
	QueueDepth int               `yaml:"queue_depth" env:"QUEUE_DEPTH"` // outbound buffer size
	MQTT       MQTTPublishConfig `yaml:"mqtt" envPrefix:"MQTT_"`
}

// MQTTPublishConfig configures the MQTT publisher backend
type MQTTPublishConfig struct {
	Broker   string `yaml:"broker" env:"BROKER"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	QoS      byte   `yaml:"qos" env:"QOS"`
}

// SessionConfig binds a source topic to an output topic
type SessionConfig struct {
	SourceTopic string `yaml:"source_topic"`
	OutputTopic string `yaml:"output_topic"`
}

// ControlConfig configures the MQTT control plane
type ControlConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	Broker        string `yaml:"broker" env:"BROKER"`
	ClientID      string `yaml:"client_id" env:"CLIENT_ID"`
	Topic         string `yaml:"topic" env:"TOPIC"`
	ResponseTopic string `yaml:"response_topic" env:"RESPONSE_TOPIC"`
	QoS           byte   `yaml:"qos" env:"QOS"`
}

// HealthConfig configures the HTTP health server
type HealthConfig struct {
	Disabled bool   `yaml:"disabled" env:"DISABLED"`
	Port     string `yaml:"port" env:"PORT"`
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result. An empty path skips the file and starts from defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides cfg fields from ORION_BRIDGE_* variables.
// Unset variables leave the field untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyArgs applies the positional command line overrides
// [sourceTopic] [publishAddress] [outputTopicName] to the first session.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("too many arguments: expected at most 3 (sourceTopic publishAddress outputTopicName), got %d", len(args))
	}
	if len(args) == 0 {
		return nil
	}

	if len(c.Sessions) == 0 {
		c.Sessions = []SessionConfig{{SourceTopic: DefaultSourceTopic}}
	}

	if args[0] != "" {
		c.Sessions[0].SourceTopic = args[0]
	}
	if len(args) > 1 && args[1] != "" {
		c.Publish.Address = args[1]
	}
	if len(args) > 2 && args[2] != "" {
		c.Sessions[0].OutputTopic = args[2]
	}
	return nil
}
