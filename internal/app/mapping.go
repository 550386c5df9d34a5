package app

import (
	"strings"
	"time"

	"jiranotify/internal/config"
	"jiranotify/internal/jira"
	"jiranotify/internal/notifier"
	"jiranotify/internal/storage"
	kit "jiranotify/internal/transport"
	logx "jiranotify/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget returns the chat receiving log lines; zero when unset.
func logTarget(cfg *config.Config) kit.ChatTarget {
	to, _ := kit.ParseChatTarget(cfg.Telegram.LogChat)
	return to
}

func notifierConfig(cfg *config.Config) (notifier.Config, error) {
	sendTimeout, err := config.Duration("notifier.send_timeout", cfg.Notifier.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:        cfg.Notifier.Workers,
		QueueSize:      cfg.Notifier.QueueSize,
		RatePerSec:     cfg.Notifier.RatePerSec,
		SendTimeout:    sendTimeout,
		DisablePreview: !cfg.Telegram.EnablePreview,
	}, nil
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func jiraClient(cfg *config.Config, timeout time.Duration) *jira.Client {
	c := jira.NewClient(cfg.Jira.Host, cfg.Jira.User, cfg.Jira.APIToken)
	c.HTTPClient.Timeout = timeout
	return c
}

func requestTimeout(cfg *config.Config) (time.Duration, error) {
	return config.Duration("jira.request_timeout", cfg.Jira.RequestTimeout, 30*time.Second)
}
