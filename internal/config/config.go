// Package config resolves runtime configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvMQTTHost     = "MQTT_HOST"
	EnvMQTTPort     = "MQTT_PORT"
	EnvMQTTUser     = "MQTT_USER"
	EnvMQTTPassword = "MQTT_PASSWORD"
	EnvMQTTUseTLS   = "MQTT_USE_TLS"
	EnvMQTTTopic    = "MQTT_TOPIC"

	EnvInterval        = "HDSENTINEL_INTERVAL"
	EnvXMLPath         = "HDSENTINEL_XML_PATH"
	EnvBinary          = "HDSENTINEL_PATH"
	EnvSource          = "HDSENTINEL_SOURCE"
	EnvSnapshotTimeout = "HDSENTINEL_TIMEOUT"

	EnvStateDBPath = "STATE_DB_PATH"
	EnvStatusAddr  = "STATUS_ADDR"
	EnvDebug       = "DEBUG"
)

// Snapshot source modes.
const (
	SourceXML  = "xml"
	SourceText = "text"
)

// Default values.
const (
	DefaultMQTTPort  = 1883
	DefaultBaseTopic = "hdsentinel"
	DefaultInterval  = 600 * time.Second
	DefaultBinary    = "/usr/sbin/hdsentinel"
	DefaultSource    = SourceXML
)

// Config holds all runtime configuration. Immutable after FromEnv.
type Config struct {
	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTUseTLS   bool
	BaseTopic    string

	Interval        time.Duration
	SnapshotTimeout time.Duration
	XMLPath         string
	Binary          string
	Source          string

	StateDBPath string
	StatusAddr  string
	Debug       bool
}

// FromEnv builds the configuration from environment variables and
// validates it. A missing broker host is a fatal configuration error.
func FromEnv() (*Config, error) {
	cfg := &Config{
		MQTTHost:     os.Getenv(EnvMQTTHost),
		MQTTPort:     DefaultMQTTPort,
		MQTTUser:     os.Getenv(EnvMQTTUser),
		MQTTPassword: os.Getenv(EnvMQTTPassword),
		MQTTUseTLS:   parseBool(os.Getenv(EnvMQTTUseTLS)),
		BaseTopic:    DefaultBaseTopic,
		Interval:     DefaultInterval,
		XMLPath:      os.Getenv(EnvXMLPath),
		Binary:       DefaultBinary,
		Source:       DefaultSource,
		StateDBPath:  os.Getenv(EnvStateDBPath),
		StatusAddr:   os.Getenv(EnvStatusAddr),
		Debug:        parseBool(os.Getenv(EnvDebug)),
	}

	if v := os.Getenv(EnvMQTTPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: %q", EnvMQTTPort, v)
		}
		cfg.MQTTPort = port
	}
	if v := os.Getenv(EnvMQTTTopic); v != "" {
		cfg.BaseTopic = strings.Trim(v, "/")
	}
	if v := os.Getenv(EnvInterval); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 1 {
			return nil, fmt.Errorf("invalid %s: %q", EnvInterval, v)
		}
		cfg.Interval = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv(EnvSnapshotTimeout); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("invalid %s: %q", EnvSnapshotTimeout, v)
		}
		cfg.SnapshotTimeout = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv(EnvBinary); v != "" {
		cfg.Binary = v
	}
	if v := os.Getenv(EnvSource); v != "" {
		cfg.Source = strings.ToLower(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MQTTHost == "" {
		return fmt.Errorf("%s environment variable is not set", EnvMQTTHost)
	}
	if c.Source != SourceXML && c.Source != SourceText {
		return fmt.Errorf("invalid %s: %q (expected %q or %q)", EnvSource, c.Source, SourceXML, SourceText)
	}
	if c.BaseTopic == "" {
		return fmt.Errorf("%s cannot be empty", EnvMQTTTopic)
	}
	return nil
}

// parseBool accepts 1/true/yes/on (case-insensitive) as true.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
