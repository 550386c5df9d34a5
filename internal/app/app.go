package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"jiranotify/internal/config"
	"jiranotify/internal/eventbus"
	"jiranotify/internal/notifier"
	"jiranotify/internal/poller"
	"jiranotify/internal/runtime/supervisor"
	"jiranotify/internal/scheduler"
	"jiranotify/internal/storage"
	kit "jiranotify/internal/transport"
	telegram "jiranotify/internal/transport/telegram/adapter"
	"jiranotify/internal/transport/telegram/router"
	"jiranotify/internal/watch"
	logx "jiranotify/pkg/logx"
	"jiranotify/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	notif   *notifier.Service
	watcher *watch.Watcher
	sched   *scheduler.Service
	router  *router.Router
	sd      *systemd.Notifier

	// svcCtx outlives the supervisor context so Stop can let the in-flight
	// cycle finish and the delivery queue drain.
	svcCtx    context.Context
	svcCancel context.CancelFunc

	spec      scheduler.Spec
	startedAt time.Time
	updates   chan kit.Update
	lastFail  atomic.Pointer[notifier.Outcome]
}

type Option func(*deps)

type deps struct {
	adapter kit.Adapter
	source  poller.Source
	sd      *systemd.Notifier
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(d *deps) { d.adapter = a } }

// WithIssueSource replaces the Jira client.
func WithIssueSource(src poller.Source) Option { return func(d *deps) { d.source = src } }

func WithSystemd(n *systemd.Notifier) Option { return func(d *deps) { d.sd = n } }

// New loads the configuration and builds every component. Configuration
// errors (including *config.MissingError) are returned before anything
// starts.
func New(ctx context.Context, opts config.Options, options ...Option) (*App, error) {
	var d deps
	for _, o := range options {
		if o != nil {
			o(&d)
		}
	}

	cfgm := config.NewManager(opts)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	spec, err := scheduler.Parse(cfg.Watch.Interval)
	if err != nil {
		return nil, fmt.Errorf("watch.interval: %w", err)
	}
	loc, err := config.Location(cfg.Watch.Timezone)
	if err != nil {
		return nil, fmt.Errorf("watch.timezone: %w", err)
	}
	reqTimeout, err := requestTimeout(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := notifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	scfg, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	target, _ := kit.ParseChatTarget(cfg.Telegram.ChatID)

	// logx.New applies immediately; bootstrap with the Telegram sink off so
	// it does not warn before the target is set.
	baseLogCfg := logConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, nil)
	logSvc.SetTelegramTarget(logTarget(cfg))
	logSvc.Apply(logConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	ad := d.adapter
	if ad == nil {
		pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(ctx, telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	store, err := storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	var restored []string
	if store != nil {
		restored, err = store.LoadSeen(ctx)
		if err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("load seen issues: %w", err)
		}
		log.Info("storage enabled", logx.String("driver", scfg.Driver), logx.Int("restored", len(restored)))
	}

	src := d.source
	if src == nil {
		src = jiraClient(cfg, reqTimeout)
	}
	pl := poller.New(src, poller.Filter{Project: cfg.Watch.Project, Status: cfg.Watch.Status},
		reqTimeout, log.With(logx.String("comp", "poller")))

	notif := notifier.New(ncfg, ad, target, log.With(logx.String("comp", "notifier")), bus, store)

	w := watch.New(pl, notif, watch.NewFormatter(cfg.Jira.Host, cfg.Jira.LinkTemplate),
		watch.WithLogger(log.With(logx.String("comp", "watch"))),
		watch.WithBus(bus),
		watch.WithStore(seenStore(store)),
		watch.WithRestored(restored),
	)

	sched := scheduler.New(w.RunCycle, log.With(logx.String("comp", "scheduler")), scheduler.WithLocation(loc))

	sd := d.sd
	if sd == nil {
		sd = systemd.New(log.With(logx.String("comp", "systemd")))
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		watcher: w,
		sched:   sched,
		sd:      sd,
		spec:    spec,
		updates: make(chan kit.Update, 64),
	}
	a.router = router.New(log.With(logx.String("comp", "commands")), ad,
		router.StartCommand(),
		router.StatusCommand(router.StatusFunc(a.Status)),
	)
	return a, nil
}

// seenStore keeps a nil Store a nil interface.
func seenStore(st storage.Store) watch.SeenStore {
	if st == nil {
		return nil
	}
	return st
}

// Watcher exposes the watcher for inspection.
func (a *App) Watcher() *watch.Watcher { return a.watcher }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status assembles the /status view.
func (a *App) Status() router.Status {
	cfg := a.cfgm.Get()
	snap := a.watcher.Snapshot()
	ss := a.sched.Stats()
	ns := a.notif.Stats()
	st := router.Status{
		Project:   cfg.Watch.Project,
		Status:    cfg.Watch.Status,
		Phase:     snap.Phase.String(),
		Seen:      snap.Seen,
		Cycles:    snap.Cycles,
		LastCycle: snap.Last.Finished,
		NextCycle: ss.Next,
		Skipped:   ss.Skipped,
		Sent:      ns.Sent,
		Failed:    ns.Failed,
		Dropped:   ns.Dropped,
		StartedAt: a.startedAt,
	}
	if o := a.lastFail.Load(); o != nil {
		st.LastFailure = router.Failure{Key: o.IssueKey, At: o.At}
		if o.Err != nil {
			st.LastFailure.Err = o.Err.Error()
		}
	}
	for _, s := range a.supervisors() {
		c := s.Counters()
		st.Tasks += c.Active
		st.Restarts += c.Restarts
	}
	return st
}

// supervisors lists the running supervisors: the app's own, the notifier
// pipeline's and the adapter's poll loop when it exposes one.
func (a *App) supervisors() []*supervisor.Supervisor {
	var out []*supervisor.Supervisor
	add := func(s *supervisor.Supervisor) {
		if s != nil {
			out = append(out, s)
		}
	}
	add(a.sup)
	add(a.notif.Supervisor())
	if sa, ok := a.adapter.(interface{ Supervisor() *supervisor.Supervisor }); ok {
		add(sa.Supervisor())
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.svcCtx, a.svcCancel = context.WithCancel(context.WithoutCancel(ctx))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.svcCtx)

	a.sup.Go0("commands.menu", a.router.PublishMenu)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(32, eventbus.TypeCycleDone, eventbus.TypeDeliveryFailed)
		a.sup.Go0("eventbus.status", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.onEvent(e)
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = latest(sub, newCfg)
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	cfg := a.cfgm.Get()
	if err := a.sched.Start(a.svcCtx, a.spec); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	a.log.Info("watching jira for new issues",
		logx.String("project", cfg.Watch.Project),
		logx.String("status", cfg.Watch.Status),
		logx.String("schedule", a.spec.String()),
		logx.String("phase", a.watcher.Phase().String()),
	)

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("watching %s / %s", cfg.Watch.Project, cfg.Watch.Status))
	a.sup.Go0("systemd.watchdog", a.sd.RunWatchdog)
	return nil
}

// onEvent mirrors cycle progress and delivery failures into the systemd
// status line; the last failure is also kept for /status.
func (a *App) onEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeCycleDone:
		res, ok := e.Data.(watch.CycleResult)
		if !ok {
			return
		}
		snap := a.watcher.Snapshot()
		a.sd.Status(fmt.Sprintf("%s: %d seen, %d new at %s",
			res.Phase, snap.Seen, len(res.New), res.Finished.Format(time.TimeOnly)))
	case eventbus.TypeDeliveryFailed:
		o, ok := e.Data.(notifier.Outcome)
		if !ok {
			return
		}
		a.lastFail.Store(&o)
		a.sd.Status(fmt.Sprintf("delivery of %s failed at %s", o.IssueKey, o.At.Format(time.TimeOnly)))
	}
}

// latest drains sub and returns the newest config seen.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig applies the live subset of a reloaded config.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	// target first so Apply() doesn't warn when the Telegram sink is enabled
	a.logs.SetTelegramTarget(logTarget(newCfg))
	a.logs.Apply(logConfig(newCfg))

	if strings.TrimSpace(oldCfg.Watch.Interval) != strings.TrimSpace(newCfg.Watch.Interval) {
		if sp, err := scheduler.Parse(newCfg.Watch.Interval); err != nil {
			a.log.Warn("invalid watch.interval; keeping previous", logx.Err(err))
		} else if err := a.sched.Reschedule(sp); err != nil {
			a.log.Warn("reschedule failed; keeping previous", logx.Err(err))
		} else {
			a.spec = sp
		}
	}

	if ncfg, err := notifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.Strings("settings", ch.RestartRequired))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// shutdownStep is one bounded phase of Stop.
type shutdownStep struct {
	name  string
	limit time.Duration
	run   func(ctx context.Context) error
}

// Stop shuts components down in dependency order. Each step gets at most
// its limit (capped by ctx); a step that overruns is logged and left
// behind so the rest of the shutdown still happens.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	steps := []shutdownStep{
		// no new cycles; a cycle in flight may still enqueue
		{"scheduler", 5 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"notifier", 3 * time.Second, func(c context.Context) error { a.notif.Stop(c); return nil }},
		{"services", 0, func(context.Context) error { a.sup.Cancel(); a.svcCancel(); return nil }},
		{"adapter", 2 * time.Second, func(c context.Context) error { return a.adapter.Stop(c) }},
		{"storage", time.Second, func(context.Context) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		}},
		// config watch and reload, command dispatch, watchdog
		{"supervisor", 2 * time.Second, func(c context.Context) error { return a.sup.Wait(c) }},
	}
	for _, st := range steps {
		a.runStep(ctx, st)
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) runStep(ctx context.Context, st shutdownStep) {
	log := a.log.With(logx.String("step", st.name))
	start := time.Now()
	if st.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- st.run(ctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("stop step failed", logx.Err(err), logx.Duration("took", took))
		case took >= 500*time.Millisecond:
			log.Info("stop step done", logx.Duration("took", took))
		default:
			log.Debug("stop step done", logx.Duration("took", took))
		}
	case <-ctx.Done():
		log.Warn("stop step overran; continuing", logx.Err(ctx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			log.Warn("stop step finished late", logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
