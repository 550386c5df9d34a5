package config

import (
	"errors"
	"fmt"
	"strings"

	"jiranotify/internal/scheduler"
	"jiranotify/internal/storage"
	kit "jiranotify/internal/transport"
)

// ErrMissingRequired is wrapped by *MissingError.
var ErrMissingRequired = errors.New("missing required configuration")

// MissingError lists required keys that have no value.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return ErrMissingRequired.Error() + ": " + strings.Join(e.Keys, ", ")
}

func (e *MissingError) Unwrap() error { return ErrMissingRequired }

// Validate checks required values first (returning *MissingError), then
// the shape of every optional setting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var missing []string
	for _, b := range envBindings {
		if b.Required && strings.TrimSpace(b.get(cfg)) == "" {
			missing = append(missing, b.Key)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	var errs []error
	if _, ok := kit.ParseChatTarget(cfg.Telegram.ChatID); !ok {
		errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID: %q is not a chat id or @channel", cfg.Telegram.ChatID))
	}
	if s := strings.TrimSpace(cfg.Telegram.LogChat); s != "" {
		if _, ok := kit.ParseChatTarget(s); !ok {
			errs = append(errs, fmt.Errorf("TELEGRAM_LOG_CHAT_ID: %q is not a chat id or @channel", s))
		}
	}
	if sp, err := scheduler.Parse(cfg.Watch.Interval); err != nil {
		errs = append(errs, fmt.Errorf("watch.interval: %w", err))
	} else if err := scheduler.Check(sp); err != nil {
		errs = append(errs, fmt.Errorf("watch.interval: %w", err))
	}
	if _, err := Location(cfg.Watch.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("watch.timezone: %w", err))
	}
	for path, raw := range map[string]string{
		"jira.request_timeout":  cfg.Jira.RequestTimeout,
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"notifier.send_timeout": cfg.Notifier.SendTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if _, err := Duration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Notifier.Workers < 0 || cfg.Notifier.QueueSize < 0 || cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier: workers, queue_size and rate_per_sec must be >= 0"))
	}
	if !storage.ValidDriver(cfg.Storage.Driver) {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q (use none, file or sqlite)", cfg.Storage.Driver))
	} else if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" && d != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required when storage is enabled"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.LogChat) == "" {
		errs = append(errs, errors.New("logging.telegram.enabled requires TELEGRAM_LOG_CHAT_ID"))
	}
	return errors.Join(errs...)
}
