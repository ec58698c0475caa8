package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	Storage      *StorageConfig      `json:"storage,omitempty"`
	Notifier     *NotifierConfig     `json:"notifier,omitempty"`
	Housekeeping *HousekeepingConfig `json:"housekeeping,omitempty"`
}

type TelegramConfig struct {
	// Token may be empty in the file; the TG_BOT_TOKEN env var is the fallback.
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Webhook switches the transport from long polling to webhook delivery
	// when public_url is set.
	Webhook WebhookConfig `json:"webhook,omitempty"`
}

type WebhookConfig struct {
	PublicURL string `json:"public_url,omitempty"`
	Listen    string `json:"listen,omitempty"` // default: ":8443"
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

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls the async outbound delivery pipeline.
//
// If the whole section is omitted, built-in defaults apply.
type NotifierConfig struct {
	Workers    int `json:"workers"`
	QueueSize  int `json:"queue_size"`
	RatePerSec int `json:"rate_per_sec"`
}

// HousekeepingConfig controls periodic maintenance jobs.
type HousekeepingConfig struct {
	Enabled bool `json:"enabled"`
	// SweepSchedule is a cron expression for the temp-file sweep.
	// Default: "@hourly".
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	// SummarySchedule is a cron expression for the daily stats line.
	// Default: "0 4 * * *".
	SummarySchedule string `json:"summary_schedule,omitempty"`
	// TmpMaxAge is a Go duration string; temp files older than this are removed.
	// Default: "1h".
	TmpMaxAge string `json:"tmp_max_age,omitempty"`
}
