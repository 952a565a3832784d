package main

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is the runtime configuration shared by all subcommands.
type Config struct {
	Host           string
	Port           int
	PollInterval   time.Duration
	FrameTimeout   time.Duration
	MaxMessageSize int
	MaxConnections int
	MetricsAddr    string
	LogLevel       string
}

func defaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           1337,
		PollInterval:   15 * time.Millisecond,
		FrameTimeout:   2 * time.Second,
		MaxMessageSize: 1 << 20,
		LogLevel:       "info",
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type fileConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	PollInterval   string `toml:"poll_interval"`
	FrameTimeout   string `toml:"frame_timeout"`
	MaxMessageSize int    `toml:"max_message_size"`
	MaxConnections int    `toml:"max_connections"`
	MetricsAddr    string `toml:"metrics_addr"`
	LogLevel       string `toml:"log_level"`
}

// loadConfig reads path over the defaults. Keys absent from the file keep
// their default values.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load chat config")
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		if raw.Port < 0 || raw.Port > 65535 {
			return Config{}, errors.Errorf("port %d out of range", raw.Port)
		}
		cfg.Port = raw.Port
	}

	if meta.IsDefined("poll_interval") {
		d, err := parsePositiveDuration("poll_interval", raw.PollInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.PollInterval = d
	}

	if meta.IsDefined("frame_timeout") {
		d, err := parsePositiveDuration("frame_timeout", raw.FrameTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.FrameTimeout = d
	}

	if meta.IsDefined("max_message_size") {
		if raw.MaxMessageSize <= 0 {
			return Config{}, errors.Errorf("max_message_size must be positive, got %d", raw.MaxMessageSize)
		}
		cfg.MaxMessageSize = raw.MaxMessageSize
	}

	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("log_level") {
		level := strings.TrimSpace(raw.LogLevel)
		if _, err := logrus.ParseLevel(level); err != nil {
			return Config{}, errors.Wrap(err, "parse log_level")
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
