// Package adapter connects the daemon to the Telegram Bot API via telebot.
package adapter

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	tele "gopkg.in/telebot.v4"

	rtsup "jiranotify/internal/runtime/supervisor"
	kit "jiranotify/internal/transport"
	logx "jiranotify/pkg/logx"
)

// Config configures the Telegram adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call on construction and never polls.
	Offline bool
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// ConnectTimeout bounds how long New retries getMe; 0 means 1m.
	ConnectTimeout time.Duration
}

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
	maxCommandDesc     = 256
	connectBudget      = time.Minute
)

// Adapter is the telebot-backed chat transport.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update // nil while stopped
	sup *rtsup.Supervisor // owns the poll loop while running

	dropped atomic.Uint64 // updates lost to a full out channel since last report

	menuMu sync.Mutex
	menu   []tele.Command // last published menu
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

// New builds the bot and checks the token with getMe. Transient failures
// are retried until ctx ends or ConnectTimeout elapses; a rejected token
// fails at once.
func New(ctx context.Context, cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	settings := tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	}
	budget := cfg.ConnectTimeout
	if budget <= 0 {
		budget = connectBudget
	}
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithMaxElapsedTime(budget),
	)
	var bot *tele.Bot
	err := backoff.RetryNotify(func() error {
		b, err := tele.NewBot(settings)
		if err != nil {
			if errors.Is(err, tele.ErrUnauthorized) || errors.Is(err, tele.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		bot = b
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.Warn("telegram getMe failed", logx.Duration("retry_in", wait), logx.Err(err))
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: bot}
	bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// Supervisor returns the supervisor of the running poll loop, or nil.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

// onText forwards every text message, commands included.
func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, Text: m.Text}
	if m.Sender != nil {
		msg.FromID, msg.FromUsername = m.Sender.ID, m.Sender.Username
	}
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.out == nil {
		return
	}
	select {
	case a.out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and forwards updates to out. A second Start is
// a no-op until Stop.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	a.out = out
	// polling is best effort: a failure here must not cancel the daemon
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup = sup
	a.mu.Unlock()

	if a.cfg.Offline {
		return nil
	}

	sup.Go0("telegram.drops", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telegram.unblock", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted
	sup.GoRestart("telegram.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. It waits at most stopGrace (or the ctx deadline,
// whichever is sooner) for the long poll to return.
func (a *Adapter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()

	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.dropped.Load()))
	sup.Cancel()
	if a.cfg.Offline {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	switch err := sup.Wait(wctx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	default:
		a.log.Debug("telegram poll loop ended with error", logx.Err(err))
	}
	return nil
}

// SendText delivers text to a chat, split into several messages when it
// exceeds the Telegram limit. The returned ref points at the first part.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	rcpt, err := recipient(to)
	if err != nil {
		return kit.MessageRef{}, err
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	var ref kit.MessageRef
	for i, part := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		m, err := a.bot.Send(rcpt, part, so)
		if err != nil {
			return ref, err
		}
		if i == 0 && m != nil {
			ref = messageRef(to, m)
		}
	}
	return ref, nil
}

func messageRef(to kit.ChatTarget, m *tele.Message) kit.MessageRef {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
	if m.Chat != nil {
		ref.ChatID = m.Chat.ID
	}
	return ref
}

// UpdateMenuCommands publishes the command menu (setMyCommands) when it
// differs from the last one published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	menu := menuCommands(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, menu) {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = menu
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

func menuCommands(cmds []kit.BotCommand) []tele.Command {
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Command), "/")
		if name == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = name
		}
		if len(desc) > maxCommandDesc {
			desc = desc[:maxCommandDesc]
		}
		menu = append(menu, tele.Command{Text: name, Description: desc})
	}
	return menu
}

// usernameRecipient addresses a public chat by @username.
type usernameRecipient string

func (u usernameRecipient) Recipient() string { return string(u) }

func recipient(to kit.ChatTarget) (tele.Recipient, error) {
	switch {
	case to.Username != "":
		return usernameRecipient(to.Username), nil
	case to.ChatID != 0:
		return tele.ChatID(to.ChatID), nil
	default:
		return nil, errors.New("telegram: empty chat target")
	}
}
