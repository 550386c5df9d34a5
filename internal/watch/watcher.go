package watch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"jiranotify/internal/eventbus"
	"jiranotify/internal/poller"
	logx "jiranotify/pkg/logx"
)

// Phase is the warm-up state of a Watcher.
type Phase int32

const (
	// PhaseWarming: the first cycle has not completed; nothing is notified.
	PhaseWarming Phase = iota
	// PhaseActive: unseen ids are notified. Terminal.
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseWarming:
		return "warming"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Delivery is one notification handed to the Dispatcher.
type Delivery struct {
	IssueID  string
	IssueKey string
	Text     string
}

// Dispatcher delivers a notification. A returned error is logged by the
// watcher and never retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

// Fetcher returns the current snapshot of watched issues. It never fails;
// a failed fetch is an empty snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) []poller.Issue
}

// SeenStore persists newly seen ids. Optional.
type SeenStore interface {
	AddSeen(ctx context.Context, ids ...string) error
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	ID       string
	Phase    Phase // phase the cycle ran in
	Fetched  int
	New      []string // keys of issues dispatched this cycle, in input order
	Failed   int
	Started  time.Time
	Finished time.Time
}

// Snapshot is a point-in-time view used by /status.
type Snapshot struct {
	Phase  Phase
	Seen   int
	Cycles uint64
	Last   CycleResult // zero until the first cycle completes
}

type Option func(*Watcher)

func WithLogger(log logx.Logger) Option { return func(w *Watcher) { w.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(w *Watcher) { w.bus = bus } }

func WithStore(st SeenStore) Option { return func(w *Watcher) { w.store = st } }

// WithRestored seeds the seen-set with previously persisted ids. A non-empty
// restored set skips warm-up.
func WithRestored(ids []string) Option {
	return func(w *Watcher) {
		for _, id := range ids {
			if id != "" {
				w.seen[id] = struct{}{}
			}
		}
		if len(w.seen) > 0 {
			w.phase = PhaseActive
		}
	}
}

// Watcher owns the seen-set and phase. Cycles are serialized; it is safe for
// concurrent use.
type Watcher struct {
	mu     sync.Mutex
	phase  Phase
	seen   map[string]struct{}
	cycles uint64
	last   CycleResult

	fetch  Fetcher
	disp   Dispatcher
	format Formatter
	log    logx.Logger
	bus    eventbus.Bus
	store  SeenStore
	now    func() time.Time
}

func New(fetch Fetcher, disp Dispatcher, format Formatter, opts ...Option) *Watcher {
	w := &Watcher{
		phase:  PhaseWarming,
		seen:   map[string]struct{}{},
		fetch:  fetch,
		disp:   disp,
		format: format,
		now:    time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(w)
		}
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	return w
}

// RunCycle fetches the current snapshot and consumes it. Nothing escapes:
// panics are recovered and logged.
func (w *Watcher) RunCycle(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	log := w.log.With(logx.String("cycle", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("poll cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	issues := w.safeFetch(ctx, log)
	res := w.consume(ctx, id, issues)
	log.Debug("poll cycle done",
		logx.String("phase", res.Phase.String()),
		logx.Int("fetched", res.Fetched),
		logx.Int("new", len(res.New)),
		logx.Int("failed", res.Failed),
		logx.Duration("took", res.Finished.Sub(res.Started)),
	)
}

// Consume applies one fetched snapshot to the seen-set.
//
// While warming every id is recorded and nothing is dispatched; the watcher
// then becomes active, even for an empty snapshot. While active, each unseen
// id is formatted and dispatched in input order and then recorded, whether
// or not the dispatch succeeded.
func (w *Watcher) Consume(ctx context.Context, issues []poller.Issue) CycleResult {
	if ctx == nil {
		ctx = context.Background()
	}
	return w.consume(ctx, uuid.NewString(), issues)
}

func (w *Watcher) consume(ctx context.Context, cycleID string, issues []poller.Issue) CycleResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	log := w.log.With(logx.String("cycle", cycleID))
	res := CycleResult{ID: cycleID, Phase: w.phase, Fetched: len(issues), Started: w.now()}
	var added []string

	switch w.phase {
	case PhaseWarming:
		for _, is := range issues {
			if w.mark(is.ID) {
				added = append(added, is.ID)
			}
		}
		w.phase = PhaseActive
		log.Info("initial snapshot recorded, backlog will not be notified", logx.Int("issues", len(added)))
	default:
		for _, is := range issues {
			if is.ID == "" {
				continue
			}
			if _, ok := w.seen[is.ID]; ok {
				continue
			}
			d := Delivery{IssueID: is.ID, IssueKey: is.Key, Text: w.format.Format(is)}
			if err := w.dispatch(ctx, d); err != nil {
				res.Failed++
				log.Warn("error sending telegram notification", logx.String("key", is.Key), logx.Err(err))
			} else {
				log.Info("new issue dispatched", logx.String("key", is.Key), logx.String("summary", is.Summary))
			}
			w.mark(is.ID)
			added = append(added, is.ID)
			res.New = append(res.New, is.Key)
		}
	}

	w.persist(ctx, log, added)
	res.Finished = w.now()
	w.cycles++
	w.last = res

	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleDone, Time: res.Finished, Data: res})
	}
	return res
}

// safeFetch treats a panicking fetcher like a failed fetch: an empty snapshot.
func (w *Watcher) safeFetch(ctx context.Context, log logx.Logger) (issues []poller.Issue) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("fetch panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			issues = []poller.Issue{}
		}
	}()
	if w.fetch == nil {
		return []poller.Issue{}
	}
	return w.fetch.Fetch(ctx)
}

func (w *Watcher) mark(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := w.seen[id]; ok {
		return false
	}
	w.seen[id] = struct{}{}
	return true
}

// dispatch isolates a misbehaving dispatcher from the rest of the cycle.
func (w *Watcher) dispatch(ctx context.Context, d Delivery) (err error) {
	if w.disp == nil {
		return fmt.Errorf("no dispatcher configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return w.disp.Dispatch(ctx, d)
}

func (w *Watcher) persist(ctx context.Context, log logx.Logger, ids []string) {
	if w.store == nil || len(ids) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := w.store.AddSeen(cctx, ids...); err != nil {
		log.Warn("persist seen ids failed", logx.Int("count", len(ids)), logx.Err(err))
	}
}

// Phase reports the current phase.
func (w *Watcher) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Seen reports whether id has been observed.
func (w *Watcher) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[id]
	return ok
}

func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	last := w.last
	last.New = append([]string(nil), w.last.New...)
	return Snapshot{Phase: w.phase, Seen: len(w.seen), Cycles: w.cycles, Last: last}
}
