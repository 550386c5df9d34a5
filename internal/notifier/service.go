package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jiranotify/internal/eventbus"
	rtsup "jiranotify/internal/runtime/supervisor"
	"jiranotify/internal/storage"
	kit "jiranotify/internal/transport"
	"jiranotify/internal/watch"
	logx "jiranotify/pkg/logx"
	"jiranotify/pkg/tgui"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

var _ watch.Dispatcher = (*Service)(nil)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
	auditTimeout       = time.Second
)

type job struct {
	d        watch.Delivery
	queuedAt time.Time
}

// pipeline is the state of one Start..Stop lifetime.
type pipeline struct {
	queue    chan job
	sup      *rtsup.Supervisor
	enqueues sync.WaitGroup // Dispatch calls between the open check and the send
	drained  chan struct{}  // closed once every worker has returned
}

// Service is an async delivery pipeline: a bounded queue drained by a
// worker pool under one shared rate limit. It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	target  kit.ChatTarget
	bus     eventbus.Bus
	store   storage.Store
	limiter *rate.Limiter

	mu       sync.Mutex
	cfg      Config
	cur      *pipeline // accepting deliveries
	stopping *pipeline // closed to intake, still draining

	smu   sync.Mutex
	stats Stats
}

// New creates a pipeline delivering to target through adapter. bus and
// store may be nil.
func New(cfg Config, adapter kit.Adapter, target kit.ChatTarget, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	return &Service{
		log:     log,
		adapter: adapter,
		target:  target,
		bus:     bus,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func withDefaults(cfg Config) Config {
	cfg.Workers = max(cfg.Workers, 1)
	cfg.RatePerSec = max(cfg.RatePerSec, 1)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return cfg
}

// Supervisor returns the supervisor of the running pipeline, or nil.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.sup
}

// Apply updates the rate limit and send timeout in place. Queue size and
// worker count take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	// burst equals the per-second rate so short spikes go out together
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start launches the workers. It is a no-op while running and waits for a
// previous Stop to finish draining.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.stopping != nil {
		drained := s.stopping.drained
		s.mu.Unlock()
		select {
		case <-drained:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.cur != nil {
		s.mu.Unlock()
		return
	}
	p := &pipeline{
		queue: make(chan job, s.cfg.QueueSize),
		// a dead worker must not take the daemon down
		sup:     rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		drained: make(chan struct{}),
	}
	s.cur = p
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		// a worker returns nil once the queue is closed; panics restart it
		p.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.work(c, p.queue)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop closes intake and lets the workers drain the queue until ctx ends.
// Deliveries still queued at that point are abandoned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.cur
	if p == nil {
		p = s.stopping
		s.mu.Unlock()
		if p != nil {
			select {
			case <-p.drained:
			case <-ctx.Done():
			}
		}
		return
	}
	s.cur, s.stopping = nil, p
	s.mu.Unlock()

	go func() {
		p.enqueues.Wait()
		close(p.queue)
		_ = p.sup.Wait(context.Background())
		close(p.drained)

		s.mu.Lock()
		if s.stopping == p {
			s.stopping = nil
		}
		s.mu.Unlock()
	}()

	select {
	case <-p.drained:
	case <-ctx.Done():
		left := len(p.queue)
		p.sup.Cancel()
		if left > 0 {
			s.log.Warn("notifier stopped before queue drained", logx.Int("abandoned", left))
		}
	}
}

// Dispatch enqueues a delivery. It never blocks on the network: a full
// queue returns ErrQueueFull and a stopped pipeline returns ErrStopped.
func (s *Service) Dispatch(ctx context.Context, d watch.Delivery) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if s.adapter == nil || s.target.IsZero() {
		return ErrDisabled
	}

	s.mu.Lock()
	p := s.cur
	if p == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	p.enqueues.Add(1)
	s.mu.Unlock()
	defer p.enqueues.Done()

	select {
	case p.queue <- job{d: d, queuedAt: time.Now()}:
		s.count(func(st *Stats) { st.Queued++ })
		return nil
	default:
		s.count(func(st *Stats) { st.Dropped++ })
		s.publish(eventbus.TypeDeliveryDrop, Outcome{
			IssueID:  d.IssueID,
			IssueKey: d.IssueKey,
			Chat:     s.target.String(),
			At:       time.Now(),
			Err:      ErrQueueFull,
		})
		return ErrQueueFull
	}
}

// Stats returns a copy of the delivery counters.
func (s *Service) Stats() Stats {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.stats
}

func (s *Service) count(fn func(*Stats)) {
	s.smu.Lock()
	fn(&s.stats)
	s.smu.Unlock()
}

func (s *Service) work(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver makes the single send attempt for j.
func (s *Service) deliver(ctx context.Context, j job) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	_, err := s.adapter.SendText(sendCtx, s.target, j.d.Text, &kit.SendOptions{
		ParseMode:      tgui.ParseModeHTML,
		DisablePreview: cfg.DisablePreview,
	})
	cancel()

	out := Outcome{
		IssueID:  j.d.IssueID,
		IssueKey: j.d.IssueKey,
		Chat:     s.target.String(),
		At:       time.Now(),
		Took:     time.Since(start),
		Err:      err,
	}
	if err != nil {
		s.count(func(st *Stats) { st.Failed++; st.LastAt = out.At })
		s.log.Warn("error sending telegram message",
			logx.String("key", out.IssueKey),
			logx.String("chat", out.Chat),
			logx.Err(err),
		)
		s.publish(eventbus.TypeDeliveryFailed, out)
	} else {
		s.count(func(st *Stats) { st.Sent++; st.LastAt = out.At })
		s.log.Info("notification sent",
			logx.String("key", out.IssueKey),
			logx.Duration("took", out.Took),
			logx.Duration("queued", start.Sub(j.queuedAt)),
		)
		s.publish(eventbus.TypeDeliverySent, out)
	}
	s.audit(ctx, out)
}

func (s *Service) publish(typ string, o Outcome) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: o.At, Data: o})
	}
}

func (s *Service) audit(ctx context.Context, o Outcome) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:       o.At,
		IssueID:  o.IssueID,
		IssueKey: o.IssueKey,
		Chat:     o.Chat,
		OK:       o.OK(),
		TookMS:   o.Took.Milliseconds(),
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.store.AppendAudit(actx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}
