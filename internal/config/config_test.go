package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiranotify/internal/scheduler"
)

// clearEnv blanks every key Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, b := range envBindings {
		t.Setenv(b.Key, "")
	}
	t.Setenv(envCheckInterval, "")
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const fullEnv = `JIRA_HOST=acme.atlassian.net
JIRA_USER=bot@acme.io
JIRA_API_TOKEN=tok
JIRA_BOARD_NAME=TB
JIRA_STATUS_NAME="To Do"
TELEGRAM_BOT_TOKEN=123:abc
TELEGRAM_CHAT_ID=-1001234
`

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", fullEnv+"CHECK_INTERVAL_MS=5000\n")

	cfg, err := Load(Options{EnvFile: env})
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "acme.atlassian.net", cfg.Jira.Host)
	assert.Equal(t, "bot@acme.io", cfg.Jira.User)
	assert.Equal(t, "TB", cfg.Watch.Project)
	assert.Equal(t, "To Do", cfg.Watch.Status)
	assert.Equal(t, "-1001234", cfg.Telegram.ChatID)
	assert.Equal(t, "5s", cfg.Watch.Interval)
	assert.Empty(t, cfg.Warnings)
}

func TestEnvironmentOverridesEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", fullEnv)
	t.Setenv("JIRA_BOARD_NAME", "OPS")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(Options{EnvFile: env})
	require.NoError(t, err)
	assert.Equal(t, "OPS", cfg.Watch.Project)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMissingEnvFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval.String(), cfg.Watch.Interval)
}

func TestCheckIntervalFallsBack(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-10", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(envCheckInterval, raw)
			cfg, err := Load(Options{})
			require.NoError(t, err)
			assert.Equal(t, "1m0s", cfg.Watch.Interval)
			require.Len(t, cfg.Warnings, 1)
			assert.Contains(t, cfg.Warnings[0], envCheckInterval)
		})
	}
}

func TestCheckIntervalKeepsMilliseconds(t *testing.T) {
	clearEnv(t)
	t.Setenv(envCheckInterval, "1500")
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings)
	assert.Equal(t, "1.5s", cfg.Watch.Interval)

	sp, err := scheduler.Parse(cfg.Watch.Interval)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, sp.Every)
	require.NoError(t, scheduler.Check(sp))
}

func TestIntervalFromMillis(t *testing.T) {
	d, ok := IntervalFromMillis(" 1500 ")
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, ok = IntervalFromMillis("")
	assert.False(t, ok)
	assert.Equal(t, DefaultInterval, d)
}

func TestValidateReportsAllMissingKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("JIRA_HOST", "acme.atlassian.net")
	t.Setenv("TELEGRAM_CHAT_ID", "@alerts")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	err = Validate(cfg)
	require.ErrorIs(t, err, ErrMissingRequired)
	var me *MissingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{"JIRA_USER", "JIRA_API_TOKEN", "JIRA_BOARD_NAME", "JIRA_STATUS_NAME", "TELEGRAM_BOT_TOKEN"}, me.Keys)
	assert.Equal(t, "missing required configuration: JIRA_USER, JIRA_API_TOKEN, JIRA_BOARD_NAME, JIRA_STATUS_NAME, TELEGRAM_BOT_TOKEN", err.Error())
}

func TestValidateShape(t *testing.T) {
	base := func() *Config {
		c := Defaults()
		c.Jira = JiraConfig{Host: "h", User: "u", APIToken: "t", RequestTimeout: "30s"}
		c.Watch.Project, c.Watch.Status = "TB", "To Do"
		c.Telegram.Token, c.Telegram.ChatID = "x", "-100"
		return c
	}
	require.NoError(t, Validate(base()))

	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"chat id", func(c *Config) { c.Telegram.ChatID = "not a chat" }, "TELEGRAM_CHAT_ID"},
		{"log chat", func(c *Config) { c.Telegram.LogChat = "nope nope" }, "TELEGRAM_LOG_CHAT_ID"},
		{"interval", func(c *Config) { c.Watch.Interval = "soon" }, "watch.interval"},
		{"timezone", func(c *Config) { c.Watch.Timezone = "Mars/Olympus_Mons" }, "watch.timezone"},
		{"duration", func(c *Config) { c.Notifier.SendTimeout = "ten" }, "notifier.send_timeout"},
		{"driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"storage path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"log sink", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mut(c)
			err := Validate(c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	y := writeFile(t, dir, "jiranotify.yaml", `
jira:
  host: file.atlassian.net
  link_template: "https://{host}/browse/{key}?focus=1"
watch:
  interval: "00:05"
notifier:
  rate_per_sec: 3
storage:
  driver: sqlite
  path: ./state.db
`)
	t.Setenv("JIRA_HOST", "env.atlassian.net")

	cfg, err := Load(Options{ConfigPath: y})
	require.NoError(t, err)
	assert.Equal(t, "env.atlassian.net", cfg.Jira.Host)
	assert.Equal(t, "https://{host}/browse/{key}?focus=1", cfg.Jira.LinkTemplate)
	assert.Equal(t, "00:05", cfg.Watch.Interval)
	assert.Equal(t, 3, cfg.Notifier.RatePerSec)
	assert.Equal(t, 256, cfg.Notifier.QueueSize)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)

	t.Run("unknown field", func(t *testing.T) {
		j := writeFile(t, dir, "bad.json", `{"watch":{"project":"TB","colour":"red"}}`)
		_, err := Load(Options{ConfigPath: j})
		require.ErrorContains(t, err, "colour")
	})
	t.Run("trailing data", func(t *testing.T) {
		j := writeFile(t, dir, "twice.json", `{"watch":{}} {"watch":{}}`)
		_, err := Load(Options{ConfigPath: j})
		require.ErrorContains(t, err, "trailing data")

		j = writeFile(t, dir, "junk.json", `{"watch":{}} x`)
		_, err = Load(Options{ConfigPath: j})
		require.ErrorContains(t, err, "trailing data")
	})
	t.Run("trailing whitespace", func(t *testing.T) {
		j := writeFile(t, dir, "spaced.json", "{\"watch\":{\"project\":\"TB\"}}\n\n")
		cfg, err := Load(Options{ConfigPath: j})
		require.NoError(t, err)
		assert.Equal(t, "TB", cfg.Watch.Project)
	})
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", fullEnv)

	m := NewManager(Options{EnvFile: env})
	first, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, first, m.Get())

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "identical sources must not republish")

	writeFile(t, dir, ".env", fullEnv+"CHECK_INTERVAL_MS=120000\n")
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case got := <-ch:
		assert.Equal(t, "2m0s", got.Watch.Interval)
		assert.Same(t, got, m.Get())
	default:
		t.Fatal("no config published")
	}

	writeFile(t, dir, ".env", "JIRA_HOST=only\n")
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, ErrMissingRequired)
	assert.Equal(t, "2m0s", m.Get().Watch.Interval, "rejected config must not be committed")
}

func TestManagerReloadHonorsCanceledContext(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", fullEnv)
	m := NewManager(Options{EnvFile: env})
	_, err := m.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writeFile(t, dir, ".env", fullEnv+"LOG_LEVEL=debug\n")
	_, err = m.Reload(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "info", m.Get().Logging.Level)
}

func TestManagerWatchPicksUpEdits(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", fullEnv)
	m := NewManager(Options{EnvFile: env})
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, ".env", fullEnv+"JIRA_STATUS_NAME=Done\n")

	select {
	case got := <-ch:
		assert.Equal(t, "Done", got.Watch.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not publish")
	}
}

func TestSummarizeChange(t *testing.T) {
	a := Defaults()
	a.Jira.APIToken = "old-secret"
	a.Watch.Project = "TB"
	b := Defaults()
	b.Jira.APIToken = "new-secret"
	b.Watch.Project = "TB"
	b.Watch.Interval = "2m"
	b.Notifier.RatePerSec = 5
	b.Logging.Level = "debug"

	ch := SummarizeChange(a, b)
	assert.Equal(t, []string{"jira", "logging", "notifier", "watch"}, ch.Sections)
	assert.ElementsMatch(t, []string{"watch.interval", "notifier.rate_per_sec", "logging"}, ch.Live)
	assert.Equal(t, []string{"jira.credentials"}, ch.RestartRequired)

	assert.True(t, SummarizeChange(a, a).Empty())

	c := *a
	c.Watch.Timezone = "UTC"
	ch = SummarizeChange(a, &c)
	assert.Equal(t, []string{"watch.timezone"}, ch.RestartRequired)
}

func TestLocation(t *testing.T) {
	loc, err := Location("  ")
	require.NoError(t, err)
	assert.Same(t, time.Local, loc)

	loc, err = Location("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = Location("Not/AZone")
	require.Error(t, err)
}
