package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
ledger:
  driver: file
  path: ./data
engagement:
  interval: 300ms
message:
  interval: 3s
  text: hello
  excluded_room_ids: [101]
presence:
  target_minutes: 25
  max_attempts: 30
wear_badge: true
recurrence: "5 0 * * *"
notify:
  serverchan_key: SCTKEY
accounts:
  - access_key: key-one
    allow: [1, 2]
  - access_key: key-two
    deny: [9]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()
	mgr := NewManager(writeConfig(t, sampleYAML))
	cfg, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Message.Text != "hello" || len(cfg.Message.ExcludedRoomIDs) != 1 {
		t.Fatalf("message = %+v", cfg.Message)
	}
	if cfg.Presence.TargetMinutes != 25 || cfg.Presence.MaxAttempts != 30 {
		t.Fatalf("presence = %+v", cfg.Presence)
	}
	if cfg.Presence.ScaleFactorOrDefault() != DefaultScaleFactor {
		t.Fatalf("scale factor = %d, want default", cfg.Presence.ScaleFactorOrDefault())
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[0].AccessKey != "key-one" {
		t.Fatalf("accounts = %+v", cfg.Accounts)
	}
	if got := mgr.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestManagerRejectsUnknownField(t *testing.T) {
	t.Parallel()
	mgr := NewManager(writeConfig(t, sampleYAML+"\ntypo_field: true\n"))
	if _, err := mgr.Load(); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Presence: PresenceConfig{TargetMinutes: 25, MaxAttempts: 30},
			Accounts: []AccountConfig{{AccessKey: "k"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad engagement interval", func(c *Config) { c.Engagement.Interval = "fast" }, "engagement.interval"},
		{"negative message interval", func(c *Config) { c.Message.Interval = "-3s" }, "message.interval"},
		{"attempts below target", func(c *Config) { c.Presence.MaxAttempts = 10 }, "max_attempts"},
		{"bad recurrence", func(c *Config) { c.Recurrence = "not cron" }, "recurrence"},
		{"seconds-field cron rejected", func(c *Config) { c.Recurrence = "0 5 0 * * *" }, "recurrence"},
		{"no accounts", func(c *Config) { c.Accounts = nil }, "account"},
		{"blank access key", func(c *Config) { c.Accounts[0].AccessKey = "  " }, "access_key"},
		{"unknown ledger driver", func(c *Config) { c.Ledger.Driver = "postgres" }, "ledger.driver"},
		{"descriptor recurrence ok", func(c *Config) { c.Recurrence = "@daily" }, ""},
		{"sqlite driver ok", func(c *Config) { c.Ledger.Driver = "sqlite" }, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestManagerSubscribePublish(t *testing.T) {
	t.Parallel()
	mgr := NewManager(writeConfig(t, sampleYAML))
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	sub := mgr.Subscribe(1)
	first := &Config{Recurrence: "@daily"}
	second := &Config{Recurrence: "@hourly"}

	// A full buffer drops the oldest pending reload; only the newest
	// config matters to a run-boundary consumer.
	mgr.publish(first)
	mgr.publish(second)
	select {
	case got := <-sub:
		if got != second {
			t.Fatalf("got %+v, want the newest published config", got)
		}
	default:
		t.Fatal("published config never reached the subscriber")
	}

	mgr.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("unsubscribe must close the channel")
	}
	// Publishing after unsubscribe must not panic.
	mgr.publish(first)
}

func TestManagerWatchDeliversReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, sampleYAML)
	mgr := NewManager(path)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mgr.Watch(ctx); err != nil {
			t.Errorf("watch: %v", err)
		}
	}()

	// Give the watcher a moment to register before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	edited := strings.Replace(sampleYAML, "target_minutes: 25", "target_minutes: 20", 1)
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Presence.TargetMinutes != 20 {
			t.Fatalf("target_minutes = %d, want the edited value", cfg.Presence.TargetMinutes)
		}
		if got := mgr.Get(); got != cfg {
			t.Fatal("published config must also be committed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never published")
	}

	cancel()
	<-done
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank = (%v, %v), want (0, nil)", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage duration must error")
	}
	if d, err := ParseDurationOrDefault("x", "", 42); err != nil || d != 42 {
		t.Fatalf("default = (%v, %v), want (42, nil)", d, err)
	}
}
