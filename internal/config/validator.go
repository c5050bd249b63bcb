package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults. Safe to call
// more than once (e.g. again after ApplyArgs).
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		cfg.InstanceID = DefaultInstanceID
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = DefaultShutdownS
	}
	if cfg.StatsIntervalS <= 0 {
		cfg.StatsIntervalS = DefaultStatsS
	}

	if err := validateSessions(cfg); err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}
	if err := validateSource(cfg); err != nil {
		return fmt.Errorf("source validation failed: %w", err)
	}
	if err := validatePublish(&cfg.Publish); err != nil {
		return fmt.Errorf("publish validation failed: %w", err)
	}
	if err := validateControl(cfg); err != nil {
		return fmt.Errorf("control validation failed: %w", err)
	}

	if cfg.Health.Port == "" {
		cfg.Health.Port = DefaultHealthPort
	}

	return nil
}

func validateSessions(cfg *Config) error {
	if len(cfg.Sessions) == 0 {
		cfg.Sessions = []SessionConfig{{SourceTopic: DefaultSourceTopic, OutputTopic: DefaultOutputTopic}}
	}

	seen := make(map[string]bool, len(cfg.Sessions))
	for i := range cfg.Sessions {
		s := &cfg.Sessions[i]
		if s.SourceTopic == "" {
			return fmt.Errorf("session %d: source_topic is required", i)
		}
		if seen[s.SourceTopic] {
			return fmt.Errorf("session %d: duplicate source_topic %q", i, s.SourceTopic)
		}
		seen[s.SourceTopic] = true

		if s.OutputTopic == "" {
			s.OutputTopic = DefaultOutputTopic
		}
	}
	return nil
}

func validateSource(cfg *Config) error {
	src := &cfg.Source
	if src.Transport == "" {
		src.Transport = "mock"
	}

	switch src.Transport {
	case "mock":
		if src.Mock == nil {
			src.Mock = make(map[string]MockFeedConfig)
		}
		// Every configured session gets a feed
		for _, s := range cfg.Sessions {
			if _, ok := src.Mock[s.SourceTopic]; !ok {
				src.Mock[s.SourceTopic] = MockFeedConfig{
					Width:      DefaultMockWidth,
					Height:     DefaultMockHeight,
					FormatCode: DefaultMockFormat,
					FPS:        DefaultMockFPS,
				}
			}
		}
		for topic, feed := range src.Mock {
			if feed.Width == 0 || feed.Height == 0 {
				return fmt.Errorf("mock feed %q: width and height must be > 0", topic)
			}
			if feed.FPS < 0 {
				return fmt.Errorf("mock feed %q: fps must be >= 0", topic)
			}
		}

	case "gstreamer":
		if len(src.GStreamer) == 0 {
			return fmt.Errorf("source.gstreamer must define at least one pipeline")
		}
		for topic, desc := range src.GStreamer {
			if desc == "" {
				return fmt.Errorf("gstreamer pipeline for %q is empty", topic)
			}
		}

	default:
		return fmt.Errorf("unknown transport '%s' (must be 'mock' or 'gstreamer')", src.Transport)
	}
	return nil
}

func validatePublish(p *PublishConfig) error {
	if p.Backend == "" {
		p.Backend = "zmq"
	}
	if p.Envelope == "" {
		p.Envelope = DefaultEnvelope
	}
	if p.Envelope != "map" && p.Envelope != "bin" {
		return fmt.Errorf("unknown envelope '%s' (must be 'map' or 'bin')", p.Envelope)
	}
	if p.QueueDepth < 0 {
		return fmt.Errorf("queue_depth must be >= 0")
	}
	if p.QueueDepth == 0 {
		p.QueueDepth = DefaultQueueDepth
	}

	switch p.Backend {
	case "zmq":
		if p.Address == "" {
			p.Address = DefaultAddress
		}
	case "mqtt":
		if p.MQTT.Broker == "" {
			return fmt.Errorf("publish.mqtt.broker is required for the mqtt backend")
		}
		if p.MQTT.ClientID == "" {
			p.MQTT.ClientID = DefaultMQTTClientID
		}
		if p.MQTT.QoS > 2 {
			return fmt.Errorf("publish.mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("unknown backend '%s' (must be 'zmq' or 'mqtt')", p.Backend)
	}
	return nil
}

func validateControl(cfg *Config) error {
	c := &cfg.Control
	if !c.Enabled {
		return nil
	}

	if c.Broker == "" {
		c.Broker = cfg.Publish.MQTT.Broker
	}
	if c.Broker == "" {
		return fmt.Errorf("control.broker is required when control is enabled")
	}
	if c.ClientID == "" {
		c.ClientID = cfg.InstanceID + "-control"
	}
	if c.Topic == "" {
		c.Topic = fmt.Sprintf("orion-bridge/control/%s", cfg.InstanceID)
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = c.Topic + "/response"
	}
	if c.QoS > 2 {
		return fmt.Errorf("control.qos must be 0, 1 or 2")
	}
	return nil
}
