package config

// Config is the full daemon configuration. It is assembled from an optional
// config file, an optional dotenv file and the process environment, in that
// order of precedence (later wins).
type Config struct {
	Jira     JiraConfig     `json:"jira"`
	Watch    WatchConfig    `json:"watch"`
	Telegram TelegramConfig `json:"telegram"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Warnings collects non-fatal problems found while loading (e.g. a
	// non-numeric CHECK_INTERVAL_MS). Never serialized.
	Warnings []string `json:"-"`
}

type JiraConfig struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	APIToken string `json:"api_token"`
	// RequestTimeout bounds one fetch (Go duration, default "30s").
	RequestTimeout string `json:"request_timeout,omitempty"`
	// LinkTemplate overrides the issue deep link; {host} and {key} are replaced.
	LinkTemplate string `json:"link_template,omitempty"`
}

type WatchConfig struct {
	Project string `json:"project"`
	Status  string `json:"status"`
	// Interval is a schedule string: "60s", "00:05", "*/2 * * * *", "@every 1m".
	Interval string `json:"interval"`
	// Timezone is an IANA zone name cron schedules are evaluated in; empty
	// means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is a numeric chat id ("-100...") or a public "@channel".
	ChatID string `json:"chat_id"`
	// LogChat optionally receives WARN+ log lines (see logging.telegram).
	LogChat string `json:"log_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout   string `json:"poll_timeout,omitempty"`
	EnablePreview bool   `json:"enable_preview,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
//
// Defaults: workers 1, queue_size 256, rate_per_sec 1, send_timeout "10s".
type NotifierConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/jiranotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Defaults returns the configuration used before any source is applied.
func Defaults() *Config {
	return &Config{
		Jira:  JiraConfig{RequestTimeout: "30s"},
		Watch: WatchConfig{Interval: DefaultInterval.String()},
		Telegram: TelegramConfig{
			PollTimeout: "10s",
		},
		Notifier: NotifierConfig{Workers: 1, QueueSize: 256, RatePerSec: 1, SendTimeout: "10s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./jiranotify.log"},
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Storage: StorageConfig{Driver: "none"},
	}
}
