package config

import (
	"sort"
	"strings"

	logx "jiranotify/pkg/logx"
)

// Change describes the difference between two committed configs.
type Change struct {
	// Sections lists every changed top-level section, sorted.
	Sections []string
	// Live lists the changed settings that are applied without restart.
	Live []string
	// RestartRequired lists changed settings that only take effect after a
	// restart (credentials, watched filter, chat, storage).
	RestartRequired []string
	// Attrs are safe structured fields for logging. Secrets never appear.
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	sections := map[string]struct{}{}
	mark := func(section, setting string, live bool) {
		sections[section] = struct{}{}
		if live {
			ch.Live = append(ch.Live, setting)
		} else {
			ch.RestartRequired = append(ch.RestartRequired, setting)
		}
	}

	// Jira (never log the token)
	o, n := oldCfg.Jira, newCfg.Jira
	if trim(o.Host) != trim(n.Host) || trim(o.User) != trim(n.User) || o.APIToken != n.APIToken {
		mark("jira", "jira.credentials", false)
		ch.Attrs = append(ch.Attrs, logx.String("jira.host", trim(n.Host)))
	}
	if trim(o.RequestTimeout) != trim(n.RequestTimeout) {
		mark("jira", "jira.request_timeout", false)
	}
	if trim(o.LinkTemplate) != trim(n.LinkTemplate) {
		mark("jira", "jira.link_template", false)
	}

	// Watch
	if trim(oldCfg.Watch.Project) != trim(newCfg.Watch.Project) || trim(oldCfg.Watch.Status) != trim(newCfg.Watch.Status) {
		mark("watch", "watch.filter", false)
		ch.Attrs = append(ch.Attrs,
			logx.String("watch.project", trim(newCfg.Watch.Project)),
			logx.String("watch.status", trim(newCfg.Watch.Status)),
		)
	}
	if trim(oldCfg.Watch.Timezone) != trim(newCfg.Watch.Timezone) {
		mark("watch", "watch.timezone", false)
		ch.Attrs = append(ch.Attrs, logx.String("watch.timezone", trim(newCfg.Watch.Timezone)))
	}
	if trim(oldCfg.Watch.Interval) != trim(newCfg.Watch.Interval) {
		mark("watch", "watch.interval", true)
		ch.Attrs = append(ch.Attrs, logx.String("watch.interval", trim(newCfg.Watch.Interval)))
	}

	// Telegram (never log the token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || trim(ot.ChatID) != trim(nt.ChatID) || trim(ot.PollTimeout) != trim(nt.PollTimeout) {
		mark("telegram", "telegram", false)
		ch.Attrs = append(ch.Attrs,
			logx.String("telegram.chat_id", trim(nt.ChatID)),
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
		)
	}
	if ot.EnablePreview != nt.EnablePreview {
		mark("telegram", "telegram.enable_preview", true)
	}
	if trim(ot.LogChat) != trim(nt.LogChat) {
		mark("telegram", "telegram.log_chat", true)
		ch.Attrs = append(ch.Attrs, logx.Bool("telegram.log_chat_set", trim(nt.LogChat) != ""))
	}

	// Notifier
	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on.RatePerSec != nn.RatePerSec {
		mark("notifier", "notifier.rate_per_sec", true)
		ch.Attrs = append(ch.Attrs, logx.Int("notifier.rate_per_sec", nn.RatePerSec))
	}
	if trim(on.SendTimeout) != trim(nn.SendTimeout) {
		mark("notifier", "notifier.send_timeout", true)
	}
	if on.Workers != nn.Workers || on.QueueSize != nn.QueueSize {
		mark("notifier", "notifier.pipeline", false)
		ch.Attrs = append(ch.Attrs,
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", "logging", true)
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", "storage", false)
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", trim(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", trim(newCfg.Storage.Path) != ""),
		)
	}

	for s := range sections {
		ch.Sections = append(ch.Sections, s)
	}
	sort.Strings(ch.Sections)
	return ch
}

func trim(s string) string { return strings.TrimSpace(s) }
