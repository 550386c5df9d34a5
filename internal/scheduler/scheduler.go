package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "jiranotify/pkg/logx"
)

// Job is the scheduled work. It must honor ctx for shutdown.
type Job func(ctx context.Context)

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Spec      string
	Runs      uint64
	Skipped   uint64
	Running   bool
	LastStart time.Time
	LastEnd   time.Time
	Next      time.Time
}

// Service runs one Job on a schedule with skip-if-running overlap.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	job Job
	loc *time.Location

	c       *cron.Cron
	entry   cron.EntryID
	spec    Spec
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped bool

	running  atomic.Bool
	inFlight sync.WaitGroup

	runs      atomic.Uint64
	skipped   atomic.Uint64
	lastStart atomic.Int64
	lastEnd   atomic.Int64
}

// parser accepts 5-field and 6-field (with seconds) cron specs plus descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// every fires at a fixed period. Unlike the "@every" descriptor it keeps
// sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// schedule resolves sp for the cron engine.
func schedule(sp Spec) (cron.Schedule, error) {
	if sp.Kind == KindInterval {
		if sp.Every <= 0 {
			return nil, fmt.Errorf("invalid schedule %q: interval must be > 0", sp.String())
		}
		return every(sp.Every), nil
	}
	sched, err := parser.Parse(sp.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", sp.Cron, err)
	}
	return sched, nil
}

// Check reports whether sp is a schedule the Service can register.
func Check(sp Spec) error {
	_, err := schedule(sp)
	return err
}

type Option func(*Service)

// WithLocation sets the zone HH:MM and cron schedules are evaluated in.
// The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(job Job, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		job: job,
		loc: time.Local,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Start registers the job, runs it once immediately and then on schedule.
func (s *Service) Start(ctx context.Context, sp Spec) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.job == nil {
		return errors.New("scheduler: job required")
	}
	sched, err := schedule(sp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	id := s.c.Schedule(sched, cron.FuncJob(s.tick))
	s.entry = id
	s.spec = sp
	s.stopped = false
	s.c.Start()
	next := s.c.Entry(id).Next
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.String("schedule", sp.String()), logx.Time("next", next))

	// First cycle runs right away rather than one interval after start.
	go s.tick()
	return nil
}

// Reschedule swaps the schedule of a started service.
func (s *Service) Reschedule(sp Spec) error {
	sched, err := schedule(sp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler: not started")
	}
	if sp == s.spec {
		return nil
	}
	id := s.c.Schedule(sched, cron.FuncJob(s.tick))
	s.c.Remove(s.entry)
	old := s.spec
	s.entry = id
	s.spec = sp
	s.log.Info("schedule changed", logx.String("from", old.String()), logx.String("to", sp.String()))
	return nil
}

// Stop stops new ticks and waits for the in-flight run until ctx ends; the
// run's context is canceled afterwards either way.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.stopped = true
	s.mu.Unlock()
	if c == nil {
		return
	}

	c.Stop()
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("in-flight cycle still running at shutdown; abandoning")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) tick() {
	s.mu.Lock()
	if s.stopped || s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	if !s.running.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		s.log.Debug("previous cycle still running; tick skipped", logx.Uint64("skipped", n))
		return
	}
	defer s.running.Store(false)

	s.runs.Add(1)
	s.lastStart.Store(time.Now().UnixNano())
	defer func() {
		s.lastEnd.Store(time.Now().UnixNano())
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.job(ctx)
}

func (s *Service) Stats() Stats {
	st := Stats{
		Runs:    s.runs.Load(),
		Skipped: s.skipped.Load(),
		Running: s.running.Load(),
	}
	if v := s.lastStart.Load(); v > 0 {
		st.LastStart = time.Unix(0, v)
	}
	if v := s.lastEnd.Load(); v > 0 {
		st.LastEnd = time.Unix(0, v)
	}
	s.mu.Lock()
	st.Spec = s.spec.String()
	if s.c != nil {
		st.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()
	return st
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
