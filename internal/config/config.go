// Package config provides configuration handling for proxytunnel.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete proxytunnel configuration.
type Config struct {
	// Proxy is the upstream: http://host:port or direct://.
	Proxy string `json:"proxy" yaml:"proxy"`

	// Listen is the local port forward address; connections accepted there
	// are tunneled to Target.
	Listen string `json:"listen" yaml:"listen"`
	Target string `json:"target" yaml:"target"`

	// HTTPListen is the CONNECT-only HTTP proxy front end address.
	HTTPListen string `json:"httpListen" yaml:"httpListen"`

	// DebugListen exposes /debug/pprof when set.
	DebugListen string `json:"debugListen" yaml:"debugListen"`

	DialTimeout        time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	NegotiationTimeout time.Duration `json:"negotiationTimeout" yaml:"negotiationTimeout"`

	// ReplyLimit bounds the proxy's CONNECT reply headers, in bytes.
	ReplyLimit int `json:"replyLimit" yaml:"replyLimit"`

	// QueueCapacity bounds each direction of a relayed connection, in bytes.
	QueueCapacity int `json:"queueCapacity" yaml:"queueCapacity"`

	// TCPKeepAlive is on, off, or keepidle:keepintvl:keepcnt.
	TCPKeepAlive string `json:"tcpKeepAlive" yaml:"tcpKeepAlive"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path. Empty logs to stderr only.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Proxy:              "direct://",
		DialTimeout:        10 * time.Second,
		NegotiationTimeout: 10 * time.Second,
		ReplyLimit:         4096,
		QueueCapacity:      64 * 1024,
		TCPKeepAlive:       "45:45:3",
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
//
// The conventional proxy variables (HTTP_PROXY, http_proxy, ALL_PROXY,
// all_proxy, in that order) set the default proxy; PROXYTUNNEL_PROXY
// overrides them.
func LoadFromEnv(config *Config) error {
	for _, name := range []string{"HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"} {
		if val := os.Getenv(name); val != "" {
			config.Proxy = normalizeProxy(val)
			break
		}
	}
	if val := os.Getenv("PROXYTUNNEL_PROXY"); val != "" {
		config.Proxy = normalizeProxy(val)
	}

	if val := os.Getenv("PROXYTUNNEL_LISTEN"); val != "" {
		config.Listen = val
	}
	if val := os.Getenv("PROXYTUNNEL_TARGET"); val != "" {
		config.Target = val
	}
	if val := os.Getenv("PROXYTUNNEL_HTTP_LISTEN"); val != "" {
		config.HTTPListen = val
	}
	if val := os.Getenv("PROXYTUNNEL_TCP_KEEPALIVE"); val != "" {
		config.TCPKeepAlive = val
	}
	if val := os.Getenv("PROXYTUNNEL_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("PROXYTUNNEL_LOG_FILE"); val != "" {
		config.Logging.File = val
	}

	var errs []error
	envDuration := func(name string, dst *time.Duration) {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	envInt := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	envDuration("PROXYTUNNEL_DIAL_TIMEOUT", &config.DialTimeout)
	envDuration("PROXYTUNNEL_NEGOTIATION_TIMEOUT", &config.NegotiationTimeout)
	envInt("PROXYTUNNEL_REPLY_LIMIT", &config.ReplyLimit)
	envInt("PROXYTUNNEL_QUEUE_CAPACITY", &config.QueueCapacity)

	return errors.Join(errs...)
}

// normalizeProxy accepts the bare host:port form common in proxy
// environment variables.
func normalizeProxy(s string) string {
	if strings.Contains(s, "://") {
		return s
	}
	return "http://" + s
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Proxy)
	if err != nil {
		return fmt.Errorf("invalid proxy: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "direct", "http":
	default:
		return fmt.Errorf("invalid proxy scheme %q (expected http or direct)", u.Scheme)
	}

	if (c.Listen == "") != (c.Target == "") {
		return errors.New("listen and target must be set together")
	}
	if c.Listen == "" && c.HTTPListen == "" {
		return errors.New("no listeners enabled (set listen and target, or httpListen)")
	}

	if c.DialTimeout < 0 {
		return fmt.Errorf("invalid dial timeout: %s", c.DialTimeout)
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("invalid negotiation timeout: %s", c.NegotiationTimeout)
	}
	if c.ReplyLimit <= 0 {
		return fmt.Errorf("invalid reply limit: %d", c.ReplyLimit)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("invalid queue capacity: %d", c.QueueCapacity)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}
