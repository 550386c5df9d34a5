package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"jiranotify/internal/eventbus"
	"jiranotify/internal/storage"
	kit "jiranotify/internal/transport"
	"jiranotify/internal/watch"
	logx "jiranotify/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	opts    []kit.SendOptions
	to      []kit.ChatTarget
	failOn  string
	entered chan struct{}
	release chan struct{}
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	<-ctx.Done()
	return nil
}

func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	a.to = append(a.to, to)
	if opt != nil {
		a.opts = append(a.opts, *opt)
	}
	if a.failOn != "" && strings.Contains(text, a.failOn) {
		return kit.MessageRef{}, errors.New("Bad Request: chat not found")
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

type auditStore struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *auditStore) LoadSeen(context.Context) ([]string, error) { return nil, nil }
func (s *auditStore) AddSeen(context.Context, ...string) error   { return nil }
func (s *auditStore) Close() error                               { return nil }
func (s *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *auditStore) snapshot() []storage.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.AuditEntry(nil), s.entries...)
}

var team = kit.ChatTarget{ChatID: -100123}

func fastConfig() Config {
	return Config{Workers: 1, QueueSize: 8, RatePerSec: 1000, SendTimeout: time.Second, DisablePreview: true}
}

func delivery(key string) watch.Delivery {
	return watch.Delivery{IssueID: key, IssueKey: key, Text: "<b>" + key + "</b>"}
}

func TestDispatchDeliversAndReportsOutcomes(t *testing.T) {
	ad := &fakeAdapter{failOn: "TB-2"}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	st := &auditStore{}

	s := New(fastConfig(), ad, team, logx.Nop(), bus, st)
	s.Start(context.Background())

	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-1")))
	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-2")))
	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-3")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Equal(t, []string{"<b>TB-1</b>", "<b>TB-2</b>", "<b>TB-3</b>"}, ad.texts(), "single worker keeps order")
	for _, o := range ad.opts {
		assert.Equal(t, "HTML", o.ParseMode)
		assert.True(t, o.DisablePreview)
	}
	for _, to := range ad.to {
		assert.Equal(t, team, to)
	}

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Queued)
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, uint64(1), stats.Failed)

	got := map[string]string{}
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			o := ev.Data.(Outcome)
			got[o.IssueKey] = ev.Type
		case <-time.After(time.Second):
			t.Fatal("missing outcome event")
		}
	}
	assert.Equal(t, map[string]string{
		"TB-1": eventbus.TypeDeliverySent,
		"TB-2": eventbus.TypeDeliveryFailed,
		"TB-3": eventbus.TypeDeliverySent,
	}, got)

	audit := st.snapshot()
	require.Len(t, audit, 3)
	assert.False(t, audit[1].OK)
	assert.Contains(t, audit[1].Error, "chat not found")
	assert.Equal(t, "-100123", audit[0].Chat)
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	ad := &fakeAdapter{failOn: "TB-9"}
	s := New(fastConfig(), ad, team, logx.Nop(), nil, nil)
	s.Start(context.Background())

	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-9")))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Len(t, ad.texts(), 1)
}

func TestDispatchQueueFull(t *testing.T) {
	ad := &fakeAdapter{entered: make(chan struct{}, 4), release: make(chan struct{})}
	cfg := fastConfig()
	cfg.QueueSize = 1
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(cfg, ad, team, logx.Nop(), bus, nil)
	s.Start(context.Background())

	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-1")))
	select {
	case <-ad.entered: // worker is now busy with TB-1
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first delivery")
	}
	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-2")))
	err := s.Dispatch(context.Background(), delivery("TB-3"))
	require.ErrorIs(t, err, ErrQueueFull)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeDeliveryDrop, ev.Type)
		assert.Equal(t, "TB-3", ev.Data.(Outcome).IssueKey)
	case <-time.After(time.Second):
		t.Fatal("no drop event")
	}
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	close(ad.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, []string{"<b>TB-1</b>", "<b>TB-2</b>"}, ad.texts())
}

func TestDispatchStoppedAndDisabled(t *testing.T) {
	s := New(fastConfig(), &fakeAdapter{}, team, logx.Nop(), nil, nil)
	require.ErrorIs(t, s.Dispatch(context.Background(), delivery("TB-1")), ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	require.ErrorIs(t, s.Dispatch(context.Background(), delivery("TB-1")), ErrStopped)

	off := New(fastConfig(), &fakeAdapter{}, kit.ChatTarget{}, logx.Nop(), nil, nil)
	off.Start(context.Background())
	defer off.Stop(context.Background())
	require.ErrorIs(t, off.Dispatch(context.Background(), delivery("TB-1")), ErrDisabled)
}

func TestStopAbandonsAfterDeadline(t *testing.T) {
	ad := &fakeAdapter{release: make(chan struct{})}
	s := New(fastConfig(), ad, team, logx.Nop(), nil, nil)
	s.Start(context.Background())
	require.NoError(t, s.Dispatch(context.Background(), delivery("TB-1")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, ad.texts())
}

func TestApplyDefaults(t *testing.T) {
	s := New(Config{}, &fakeAdapter{}, team, logx.Nop(), nil, nil)
	assert.Equal(t, 1, s.cfg.Workers)
	assert.Equal(t, 256, s.cfg.QueueSize)
	assert.Equal(t, 1, s.cfg.RatePerSec)
	assert.Equal(t, 10*time.Second, s.cfg.SendTimeout)
}

func TestApplyRetunesLimiterInPlace(t *testing.T) {
	s := New(Config{RatePerSec: 2}, &fakeAdapter{}, team, logx.Nop(), nil, nil)
	lim := s.limiter
	s.Apply(Config{RatePerSec: 7, SendTimeout: time.Second})

	assert.Same(t, lim, s.limiter)
	assert.Equal(t, rate.Limit(7), s.limiter.Limit())
	assert.Equal(t, 7, s.limiter.Burst())
	assert.Equal(t, time.Second, s.cfg.SendTimeout)
	assert.Equal(t, 256, s.cfg.QueueSize)
}
