package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "jiranotify/internal/transport"
	"jiranotify/pkg/tgui"
)

const (
	sinkQueue     = 128
	sinkMsgRunes  = 1000
	sinkValRunes  = 300
	sinkMaxFields = 20
)

type sinkItem struct {
	sender kit.Adapter
	to     kit.ChatTarget
	text   string
}

// telegramSink is a zerolog.LevelWriter that forwards events at or above a
// minimum level to a chat. Writes never block: excess lines are dropped by
// the rate limiter or a full queue.
type telegramSink struct {
	mu      sync.Mutex
	sender  kit.Adapter
	to      kit.ChatTarget
	min     Level
	limiter *rate.Limiter

	queue   chan sinkItem
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ zerolog.LevelWriter = (*telegramSink)(nil)

func newTelegramSink(sender kit.Adapter) *telegramSink {
	return &telegramSink{
		sender:  sender,
		min:     LevelWarn,
		limiter: rate.NewLimiter(1, 1),
		queue:   make(chan sinkItem, sinkQueue),
	}
}

func (t *telegramSink) setSender(a kit.Adapter) {
	t.mu.Lock()
	t.sender = a
	t.mu.Unlock()
}

func (t *telegramSink) setTarget(to kit.ChatTarget) {
	t.mu.Lock()
	t.to = to
	t.mu.Unlock()
}

func (t *telegramSink) target() kit.ChatTarget {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.to
}

func (t *telegramSink) configure(min Level, limit rate.Limit) {
	t.mu.Lock()
	t.min = min
	t.limiter.SetLimit(limit)
	t.limiter.SetBurst(max(1, int(limit)))
	t.mu.Unlock()
}

// start launches the delivery worker once.
func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = it.sender.SendText(sctx, it.to, it.text, &kit.SendOptions{
				ParseMode:      tgui.ParseModeHTML,
				DisablePreview: true,
			})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	sender, to := t.sender, t.to
	pass := sender != nil && !to.IsZero() && level >= t.min && t.limiter.Allow()
	t.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	text := renderEvent(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- sinkItem{sender: sender, to: to, text: text}:
	default:
	}
	return len(p), nil
}

// renderEvent turns one JSON log line into Telegram HTML:
//
//	<b>WARN</b> message
//	<code>key</code> value
//
// Keys are sorted; time is dropped. Lines that are not JSON are sent as
// escaped text.
func renderEvent(p []byte) string {
	raw := strings.TrimSpace(string(p))
	if raw == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return tgui.Esc(tgui.TruncRunes(raw, sinkMsgRunes)).String()
	}

	msg, _ := m[zerolog.MessageFieldName].(string)
	head := tgui.Esc(tgui.TruncRunes(msg, sinkMsgRunes))
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		head = tgui.B(strings.ToUpper(lvl)) + " " + head
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > sinkMaxFields {
		keys = keys[:sinkMaxFields]
	}

	lines := []tgui.H{head}
	for _, k := range keys {
		lines = append(lines, tgui.Code(k)+" "+tgui.Esc(tgui.TruncRunes(fmt.Sprint(m[k]), sinkValRunes)))
	}
	return tgui.Lines(lines...).String()
}
