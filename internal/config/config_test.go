package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "15s"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: file
  path: ./data
notifier:
  workers: 3
  queue_size: 100
  rate_per_sec: 10
housekeeping:
  enabled: true
  tmp_max_age: "2h"
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Notifier == nil || cfg.Notifier.Workers != 3 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "123:abc"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "x"
  pol_timeout: "10s"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTokenEnvFallback(t *testing.T) {
	t.Setenv(EnvToken, "env:token")
	path := writeConfig(t, "config.yaml", `
telegram: {}
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Fatalf("token = %q, want env fallback", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	err := Validate(&Config{})
	if err == nil {
		t.Fatal("expected error for missing token")
	}

	cfg := &Config{}
	cfg.Telegram.Token = "x"
	cfg.Telegram.PollTimeout = "not-a-duration"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for bad poll_timeout")
	}

	cfg.Telegram.PollTimeout = "30s"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 0},
		{name: "simple", raw: "90s", want: 90 * time.Second},
		{name: "composite", raw: "1h30m", want: 90 * time.Minute},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	if d, err := ParseDurationOrDefault("test.field", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("config not delivered")
	}

	// A full buffer gets the stale item replaced, never a blocked publish.
	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)
	select {
	case got := <-ch:
		if got != second {
			t.Fatal("latest config was not kept")
		}
	default:
		t.Fatal("no config delivered")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	// double-unsubscribe is a no-op
	m.Unsubscribe(ch)
}
