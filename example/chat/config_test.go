package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chat.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
host = "0.0.0.0"
port = 9000
poll_interval = "50ms"
frame_timeout = "5s"
max_message_size = 4096
max_connections = 64
metrics_addr = ":9100"
log_level = "debug"
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	want := Config{
		Host:           "0.0.0.0",
		Port:           9000,
		PollInterval:   50 * time.Millisecond,
		FrameTimeout:   5 * time.Second,
		MaxMessageSize: 4096,
		MaxConnections: 64,
		MetricsAddr:    ":9100",
		LogLevel:       "debug",
	}
	if cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}
	if cfg.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadConfig_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, `port = 4000`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	want := defaultConfig()
	want.Port = 4000
	if cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"port range":       `port = 70000`,
		"poll interval":    `poll_interval = "soon"`,
		"negative timeout": `frame_timeout = "-1s"`,
		"message size":     `max_message_size = 0`,
		"log level":        `log_level = "loud"`,
		"syntax":           `port = `,
	}

	for name, body := range cases {
		if _, err := loadConfig(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !strings.Contains(err.Error(), "load chat config") {
		t.Errorf("error = %v", err)
	}
}
