// Package poller fetches the current snapshot of watched Jira issues.
//
// Fetch never fails from the caller's point of view: any transport,
// authentication or decoding problem is logged and reported as "no issues
// this cycle". The next scheduled poll is the only retry.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jiranotify/internal/jira"
	logx "jiranotify/pkg/logx"
)

// Issue is the record shape handed to the watcher.
type Issue struct {
	ID       string
	Key      string
	Summary  string
	Creator  string // display name, empty when Jira reports no creator
	Labels   []string
	Priority string // empty when unset
	Created  time.Time
}

// Source is the issue-tracker query collaborator.
type Source interface {
	SearchIssues(ctx context.Context, jql string) ([]jira.Issue, error)
}

// Filter selects the watched issues.
type Filter struct {
	Project string
	Status  string
}

type Poller struct {
	src     Source
	filter  Filter
	jql     string
	timeout time.Duration
	log     logx.Logger
}

// New creates a poller. timeout bounds one Fetch call; 0 means 30s.
func New(src Source, f Filter, timeout time.Duration, log logx.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		src:     src,
		filter:  f,
		jql:     jira.BuildJQL(f.Project, f.Status),
		timeout: timeout,
		log:     log,
	}
}

func (p *Poller) Filter() Filter { return p.filter }

// Fetch returns every issue currently matching the filter, newest first.
// On failure it logs and returns an empty slice.
func (p *Poller) Fetch(ctx context.Context) []Issue {
	start := time.Now()
	out, err := p.Query(ctx)
	if err != nil {
		p.log.Warn("error fetching issues from jira",
			logx.Err(err),
			logx.String("project", p.filter.Project),
			logx.String("status", p.filter.Status),
			logx.Duration("took", time.Since(start)),
		)
		return []Issue{}
	}
	p.log.Debug("issues fetched", logx.Int("count", len(out)), logx.Duration("took", time.Since(start)))
	return out
}

// Query is Fetch with the error surfaced. Issues without an id are dropped.
// A search cut short by the page cap still yields the issues it returned.
func (p *Poller) Query(ctx context.Context) ([]Issue, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.search(cctx)
	if errors.Is(err, jira.ErrTruncated) {
		p.log.Warn("jira search truncated; oldest issues omitted", logx.Err(err))
	} else if err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(raw))
	for _, ji := range raw {
		if ji.ID == "" {
			p.log.Debug("skipping issue without id", logx.String("key", ji.Key))
			continue
		}
		out = append(out, fromJira(ji))
	}
	return out, nil
}

// search shields Fetch from panics inside the source.
func (p *Poller) search(ctx context.Context) (issues []jira.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues, err = nil, &panicError{v: r}
		}
	}()
	return p.src.SearchIssues(ctx, p.jql)
}

type panicError struct{ v any }

func (e *panicError) Error() string { return fmt.Sprintf("issue source panicked: %v", e.v) }

func fromJira(ji jira.Issue) Issue {
	is := Issue{
		ID:      ji.ID,
		Key:     ji.Key,
		Summary: ji.Fields.Summary,
		Labels:  append([]string(nil), ji.Fields.Labels...),
	}
	if ji.Fields.Creator != nil {
		is.Creator = ji.Fields.Creator.DisplayName
	}
	if ji.Fields.Priority != nil {
		is.Priority = ji.Fields.Priority.Name
	}
	if ji.Fields.Created != "" {
		if t, err := jira.ParseTimestamp(ji.Fields.Created); err == nil {
			is.Created = t
		}
	}
	return is
}
