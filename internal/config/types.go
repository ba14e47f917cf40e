package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the whole bot configuration.
//
// All durations are Go duration strings (e.g. "300ms", "3s", "1m").
// YAML and JSON configs share one strict decoder (see yaml.go); unknown
// fields are rejected so typos fail loudly at startup instead of being
// silently ignored.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Ledger controls the per-day completion store.
	// Driver "file" (default) or "sqlite".
	Ledger LedgerConfig `json:"ledger"`

	Engagement EngagementConfig `json:"engagement"`
	Message    MessageConfig    `json:"message"`
	Presence   PresenceConfig   `json:"presence"`

	// WearBadge wears the presence target's badge before heartbeating.
	WearBadge bool `json:"wear_badge,omitempty"`

	// Proxy is an optional outbound proxy URL applied to all remote calls.
	Proxy string `json:"proxy,omitempty"`

	// Recurrence is an optional cron expression ("5 0 * * *", "@daily").
	// When set, each account restarts its run at the next matching instant
	// after a normal completion. When empty the run is one-shot.
	Recurrence string `json:"recurrence,omitempty"`

	Notify *NotifyConfig `json:"notify,omitempty"`

	Accounts []AccountConfig `json:"accounts"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LedgerConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// EngagementConfig controls the engagement (like) bursts.
type EngagementConfig struct {
	// Interval is the pause between successful actions within one burst.
	Interval string `json:"interval"`
}

// MessageConfig controls the message (danmaku) bursts.
type MessageConfig struct {
	Interval string `json:"interval"`

	// Text is sent as the first message of each burst; later messages let
	// the platform pick a default. Empty uses a built-in text.
	Text string `json:"text,omitempty"`

	// ExcludedRoomIDs lists rooms where message bursts are a no-op
	// (platform-restricted rooms).
	ExcludedRoomIDs []int64 `json:"excluded_room_ids,omitempty"`
}

// PresenceConfig controls the timed-presence (watch) task.
type PresenceConfig struct {
	// TargetMinutes is the daily watched-minutes floor per target.
	TargetMinutes int `json:"target_minutes"`

	// MaxAttempts caps heartbeats per session. Must be >= TargetMinutes,
	// since one heartbeat accounts for roughly one minute.
	MaxAttempts int `json:"max_attempts"`

	// ScaleFactor converts the platform's raw progress units to minutes.
	// 0 uses the platform default of 5.
	ScaleFactor int `json:"scale_factor,omitempty"`
}

// NotifyConfig controls outbound run-summary delivery.
type NotifyConfig struct {
	ServerChanKey string          `json:"serverchan_key,omitempty"`
	Telegram      *TelegramNotify `json:"telegram,omitempty"`
	RatePerSec    int             `json:"rate_per_sec,omitempty"`
	RetryMax      int             `json:"retry_max,omitempty"`
}

type TelegramNotify struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// AccountConfig identifies one platform account and its target filters.
//
// Allow, when non-empty, imposes a total order: only listed target ids are
// tracked, in list order. Otherwise all owned badges are tracked in the
// platform's order, minus Deny.
type AccountConfig struct {
	AccessKey string  `json:"access_key"`
	Allow     []int64 `json:"allow,omitempty"`
	Deny      []int64 `json:"deny,omitempty"`
}

const DefaultScaleFactor = 5

var recurrenceParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks constraints that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := ParseDurationField("engagement.interval", c.Engagement.Interval); err != nil {
		return err
	}
	if _, err := ParseDurationField("message.interval", c.Message.Interval); err != nil {
		return err
	}
	if c.Presence.TargetMinutes < 0 {
		return errors.New("presence.target_minutes must be >= 0")
	}
	if c.Presence.MaxAttempts < c.Presence.TargetMinutes {
		return fmt.Errorf("presence.max_attempts (%d) must be >= presence.target_minutes (%d)",
			c.Presence.MaxAttempts, c.Presence.TargetMinutes)
	}
	if c.Presence.ScaleFactor < 0 {
		return errors.New("presence.scale_factor must be >= 0")
	}
	if s := strings.TrimSpace(c.Recurrence); s != "" {
		if _, err := recurrenceParser.Parse(s); err != nil {
			return fmt.Errorf("recurrence: invalid cron expression %q: %w", c.Recurrence, err)
		}
	}
	if len(c.Accounts) == 0 {
		return errors.New("at least one account is required")
	}
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.AccessKey) == "" {
			return fmt.Errorf("accounts[%d]: access_key is required", i)
		}
	}
	if d := strings.ToLower(strings.TrimSpace(c.Ledger.Driver)); d != "" && d != "file" && d != "sqlite" && d != "sqlite3" {
		return fmt.Errorf("ledger.driver: unknown driver %q", c.Ledger.Driver)
	}
	return nil
}

// ScaleFactorOrDefault returns the configured progress scale factor.
func (p PresenceConfig) ScaleFactorOrDefault() int {
	if p.ScaleFactor > 0 {
		return p.ScaleFactor
	}
	return DefaultScaleFactor
}
