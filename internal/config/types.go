package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`

	// APIKeys authenticates callers of the outbound-send HTTP API.
	// An empty list means no key ever matches (fail-closed).
	APIKeys []string `json:"api_keys"`

	// AuthorizedChats allow-lists Telegram chat IDs for bot commands.
	// An empty list means every command is denied (fail-closed).
	AuthorizedChats []int64 `json:"authorized_chats"`

	// TemplatesPath points at an optional YAML/JSON file with extra
	// template definitions. Entries there add to or override the built-ins.
	TemplatesPath string `json:"templates_path,omitempty"`

	Status   StatusConfig   `json:"status"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Audit    AuditConfig    `json:"audit,omitempty"`

	// DashboardURL is handed to command replies that link back to the
	// monitoring dashboard.
	DashboardURL string `json:"dashboard_url,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default ":8080"
}

// StatusConfig locates the external monitoring API and sets the alerting
// thresholds used by the aggregator. Thresholds are percentages; 0 keeps
// the default of 90.
type StatusConfig struct {
	BaseURL        string `json:"base_url"`
	RequestTimeout string `json:"request_timeout,omitempty"` // default "5s"

	CPUThreshold  float64 `json:"cpu_threshold,omitempty"`
	RAMThreshold  float64 `json:"ram_threshold,omitempty"`
	DiskThreshold float64 `json:"disk_threshold,omitempty"`
}

// DispatchConfig controls the outbound send path.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - rate_per_sec: 0 (no pacing)
//   - send_timeout: "30s"
type DispatchConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// AuditConfig selects the audit sink.
//
// Driver values:
//   - "log" (or empty): structured log entries only
//   - "sqlite": append-only SQLite table at Path
type AuditConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only; Go duration string
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

// Validate checks fields that would make the process unable to serve at all.
// Empty api_keys / authorized_chats are legal (the relay then denies
// everything), so they are not validation errors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Status.BaseURL) == "" {
		return errors.New("status.base_url is required")
	}
	for _, raw := range []struct{ path, val string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"status.request_timeout", c.Status.RequestTimeout},
		{"dispatch.send_timeout", c.Dispatch.SendTimeout},
		{"audit.busy_timeout", c.Audit.BusyTimeout},
	} {
		if _, err := ParseDurationField(raw.path, raw.val); err != nil {
			return err
		}
	}
	for _, t := range []struct {
		path string
		val  float64
	}{
		{"status.cpu_threshold", c.Status.CPUThreshold},
		{"status.ram_threshold", c.Status.RAMThreshold},
		{"status.disk_threshold", c.Status.DiskThreshold},
	} {
		if t.val < 0 || t.val > 100 {
			return fmt.Errorf("%s: must be within [0,100]", t.path)
		}
	}
	if c.Dispatch.Workers < 0 {
		return errors.New("dispatch.workers: must be >= 0")
	}
	if c.Dispatch.RatePerSec < 0 {
		return errors.New("dispatch.rate_per_sec: must be >= 0")
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
