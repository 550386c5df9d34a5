package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	logx "jiranotify/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Manager owns the committed configuration and republishes it when one of
// its source files changes.
type Manager struct {
	opts Options
	log  logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	sum  uint64 // fingerprint of cfg
	subs map[chan *Config]struct{}
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, subs: map[chan *Config]struct{}{}}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Parse loads and validates the configuration without committing it.
func (m *Manager) Parse() (*Config, error) {
	cfg, err := Load(m.opts)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Commit makes cfg the current configuration without notifying subscribers.
func (m *Manager) Commit(cfg *Config) {
	sum := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

// Load parses and commits the configuration.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err == nil {
		m.Commit(cfg)
	}
	return cfg, err
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving every published config. A slow
// reader loses older pending configs, never the newest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe stops deliveries to ch and closes it.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish runs under m.mu so Unsubscribe cannot close a channel mid-send.
func (m *Manager) publish(cfg *Config) {
	for ch := range m.subs {
		if !offerNewest(ch, cfg) {
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// offerNewest sends cfg, evicting the oldest queued value if ch is full.
func offerNewest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// Reload re-reads every source and, when the result is valid and differs
// from the committed config, commits and publishes it. It reports whether
// a new config was published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	sum := fingerprint(cfg)
	m.mu.RLock()
	same := sum != 0 && sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged; skipping publish")
		return false, nil
	}
	for _, w := range cfg.Warnings {
		m.log.Warn(w)
	}

	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.publish(cfg)
	m.mu.Unlock()
	m.log.Debug("config published", logx.String("fingerprint", fmt.Sprintf("%016x", sum)))
	return true, nil
}

// sources returns the basenames of the config and env files keyed by
// their directory.
func (m *Manager) sources() map[string][]string {
	out := map[string][]string{}
	for _, p := range []string{m.opts.ConfigPath, m.opts.EnvFile} {
		if p = strings.TrimSpace(p); p != "" {
			dir := filepath.Dir(p)
			out[dir] = append(out[dir], filepath.Base(p))
		}
	}
	return out
}

// Watch follows the config and env files until ctx is cancelled. Directories
// are watched rather than files so editors that replace files by rename are
// still seen. A broken fsnotify watcher is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	srcs := m.sources()
	if len(srcs) == 0 {
		<-ctx.Done()
		return nil
	}
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		err := m.follow(ctx, srcs, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

var errWatcherClosed = errors.New("watcher closed")

// follow runs one fsnotify watcher until it breaks or ctx ends. Bursts of
// events collapse into one Reload after reloadDebounce of quiet.
func (m *Manager) follow(ctx context.Context, srcs map[string][]string, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = w.Close() }()
	for dir := range srcs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("add %s: %w", dir, err)
		}
	}
	started()
	m.log.Debug("config watcher started", logx.Int("dirs", len(srcs)))

	quiet := time.NewTimer(reloadDebounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-quiet.C:
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config rejected", logx.Err(err))
			}
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op != fsnotify.Chmod && isSource(srcs, ev.Name) {
				m.log.Debug("config change detected", logx.String("file", ev.Name), logx.String("op", ev.Op.String()))
				quiet.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			// overflow means events were missed; reload to catch up
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				quiet.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// isSource compares by basename within the watched directory.
func isSource(srcs map[string][]string, name string) bool {
	for _, base := range srcs[filepath.Dir(name)] {
		if strings.EqualFold(filepath.Base(name), base) {
			return true
		}
	}
	return false
}
