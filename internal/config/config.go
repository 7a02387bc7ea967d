// Package config loads the configuration of the xsigd daemon.
//
// Configuration is read from a YAML file over built-in defaults, then overridden by XSIG_*
// environment variables and validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
	"github.com/arloliu/go-xsig/xsigserver"
)

// Config is the root configuration of xsigd.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServerConfig contains the XSIG listener and engine settings.
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	CommandQueueSize   int           `yaml:"command_queue_size"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	CallbackTimeout    time.Duration `yaml:"callback_timeout"`
	RateLimit          int           `yaml:"rate_limit"`
	RateWindow         time.Duration `yaml:"rate_window"`
	SyncDebounce       time.Duration `yaml:"sync_debounce"`
	InitialSyncTimeout time.Duration `yaml:"initial_sync_timeout"`
	DigitalEchoTimeout time.Duration `yaml:"digital_echo_timeout"`
	CloseTimeout       time.Duration `yaml:"close_timeout"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

// MQTTConfig contains the MQTT bridge settings.
type MQTTConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	TLS           bool          `yaml:"tls"`
	ClientID      string        `yaml:"client_id"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TopicPrefix   string        `yaml:"topic_prefix"`
	QoS           int           `yaml:"qos"`
	PulseDuration time.Duration `yaml:"pulse_duration"`
}

// InfluxDBConfig contains the join history writer settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// DiscoveryConfig contains the mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// Load reads the configuration from path, applies environment overrides and validates it.
// An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "",
			Port:               xsigserver.DefaultPort,
			CommandQueueSize:   100,
			CommandTimeout:     5 * time.Second,
			CallbackTimeout:    500 * time.Millisecond,
			RateLimit:          1000,
			RateWindow:         time.Second,
			SyncDebounce:       100 * time.Millisecond,
			DigitalEchoTimeout: 2 * time.Second,
			CloseTimeout:       3 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			Host:          "localhost",
			Port:          1883,
			ClientID:      "xsigd",
			TopicPrefix:   "xsig",
			QoS:           1,
			PulseDuration: 100 * time.Millisecond,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "xsig",
			Bucket:        "xsig",
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		Metrics: MetricsConfig{
			Listen: ":9110",
			Path:   "/metrics",
		},
		Discovery: DiscoveryConfig{
			Instance: "xsigd",
			Service:  "_xsig._tcp",
			Domain:   "local.",
		},
	}
}

// applyEnvOverrides applies XSIG_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("XSIG_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("XSIG_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: XSIG_SERVER_PORT %q is not a number", xsig.ErrValidation, v)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("XSIG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("XSIG_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("XSIG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("XSIG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	if v := os.Getenv("XSIG_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("XSIG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if err := xsigserver.ValidatePort(c.Server.Port); err != nil {
		errs = append(errs, "server.port must be between 1024 and 65535")
	}
	if _, err := xsigserver.NewServerConfig(c.ServerOptions(nil)...); err != nil {
		errs = append(errs, "server: "+err.Error())
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level must be one of debug, info, warn, error, fatal")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errs = append(errs, "mqtt.host is required")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			errs = append(errs, "mqtt.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if c.Discovery.Enabled && c.Discovery.Instance == "" {
		errs = append(errs, "discovery.instance is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: configuration errors: %s", xsig.ErrValidation, strings.Join(errs, "; "))
	}

	return nil
}

// ServerOptions converts the server section into engine options. l becomes the engine logger
// when not nil.
func (c *Config) ServerOptions(l logger.Logger) []xsigserver.ServerOption {
	s := c.Server
	opts := []xsigserver.ServerOption{
		xsigserver.WithCommandQueueSize(s.CommandQueueSize),
		xsigserver.WithCommandTimeout(s.CommandTimeout),
		xsigserver.WithCallbackTimeout(s.CallbackTimeout),
		xsigserver.WithRateLimit(s.RateLimit, s.RateWindow),
		xsigserver.WithSyncDebounce(s.SyncDebounce),
		xsigserver.WithInitialSyncTimeout(s.InitialSyncTimeout),
		xsigserver.WithDigitalEchoTimeout(s.DigitalEchoTimeout),
		xsigserver.WithCloseTimeout(s.CloseTimeout),
	}

	if l != nil {
		opts = append(opts, xsigserver.WithLogger(l))
	}

	return opts
}

// Logger builds the daemon logger from the logging section.
func (c *Config) Logger() logger.Logger {
	level, err := logger.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logger.InfoLevel
	}

	return logger.NewSlog(level, c.Logging.AddSource)
}
