package app

import (
	"context"
	"fmt"
	"io"

	"jiranotify/internal/config"
	"jiranotify/internal/poller"
	"jiranotify/internal/watch"
	logx "jiranotify/pkg/logx"
)

// Check runs one fetch and writes every message a first active cycle would
// send to out. It sends nothing and persists nothing. The fetch error, if
// any, is returned.
func Check(ctx context.Context, opts config.Options, out io.Writer, options ...Option) (int, error) {
	var d deps
	for _, o := range options {
		if o != nil {
			o(&d)
		}
	}
	cfg, err := config.NewManager(opts).Parse()
	if err != nil {
		return 0, err
	}
	log := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "check"))
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	timeout, err := requestTimeout(cfg)
	if err != nil {
		return 0, err
	}
	src := d.source
	if src == nil {
		src = jiraClient(cfg, timeout)
	}
	pl := poller.New(src, poller.Filter{Project: cfg.Watch.Project, Status: cfg.Watch.Status}, timeout, log)

	issues, err := pl.Query(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch issues: %w", err)
	}
	f := watch.NewFormatter(cfg.Jira.Host, cfg.Jira.LinkTemplate)
	for i, is := range issues {
		if i > 0 {
			_, _ = fmt.Fprintln(out)
		}
		_, _ = fmt.Fprintln(out, f.Format(is))
	}
	log.Info("check complete",
		logx.String("project", cfg.Watch.Project),
		logx.String("status", cfg.Watch.Status),
		logx.Int("issues", len(issues)),
	)
	return len(issues), nil
}
