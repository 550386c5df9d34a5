package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "jiranotify/internal/transport"
)

const defaultLogFile = "./jiranotify.log"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls the chat sink. MinLevel defaults to warn and
// RatePerSec to 1.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the outputs behind every Logger it hands out and lets them
// be reconfigured at runtime.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	sink *telegramSink
}

// New applies cfg and returns the service plus a root Logger bound to it.
// sender may be nil and set later with SetSender.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	s := &Service{sink: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetSender installs the adapter used by the Telegram sink. The adapter is
// usually built after the logger.
func (s *Service) SetSender(a kit.Adapter) { s.sink.setSender(a) }

// SetTelegramTarget points the Telegram sink at a chat. A zero target mutes it.
func (s *Service) SetTelegramTarget(to kit.ChatTarget) { s.sink.setTarget(to) }

// Apply swaps outputs and levels. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.sink.configure(parseLevel(cfg.Telegram.MinLevel, LevelWarn), rate.Limit(max(1, cfg.Telegram.RatePerSec)))
	if cfg.Telegram.Enabled {
		s.sink.start()
		outs = append(outs, s.sink)
		if s.sink.target().IsZero() {
			fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but no log chat is set")
		}
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close flushes the Telegram sink and closes the log file.
func (s *Service) Close() error {
	s.sink.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}
