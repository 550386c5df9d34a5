package router

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"jiranotify/pkg/tgui"
)

// StartReply is the /start greeting.
const StartReply = "Jira Notifier Bot is running."

// Status is what /status reports.
type Status struct {
	Project   string
	Status    string
	Phase     string
	Seen      int
	Cycles    uint64
	LastCycle time.Time
	NextCycle time.Time
	Skipped   uint64
	Sent      uint64
	Failed    uint64
	Dropped   uint64
	Tasks     int64 // running supervised goroutines
	Restarts  uint64
	StartedAt time.Time

	LastFailure Failure // zero when no delivery has failed
}

// Failure describes one failed delivery.
type Failure struct {
	Key string
	At  time.Time
	Err string
}

// StatusProvider returns the current daemon status.
type StatusProvider interface {
	Status() Status
}

type StatusFunc func() Status

func (f StatusFunc) Status() Status { return f() }

func StartCommand() Command {
	return Command{
		Name:        "start",
		Description: "check that the bot is alive",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, tgui.Esc(StartReply).String())
		},
	}
}

func StatusCommand(p StatusProvider) Command {
	return Command{
		Name:        "status",
		Description: "watcher state and delivery counters",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, RenderStatus(p.Status(), time.Now()))
		},
	}
}

const maxFailureErr = 200

// RenderStatus formats st as Telegram HTML.
func RenderStatus(st Status, now time.Time) string {
	last := "never"
	if !st.LastCycle.IsZero() {
		last = humanize.RelTime(st.LastCycle, now, "ago", "from now")
	}
	lines := []tgui.H{
		tgui.B("Jira Notifier"),
		tgui.Esc(fmt.Sprintf("Watching %q in status %q", st.Project, st.Status)),
		tgui.Esc("Phase: " + st.Phase),
		tgui.Esc("Seen issues: " + humanize.Comma(int64(st.Seen))),
		tgui.Esc(fmt.Sprintf("Cycles: %s (skipped %s), last %s", humanize.Comma(int64(st.Cycles)), humanize.Comma(int64(st.Skipped)), last)),
	}
	if !st.NextCycle.IsZero() {
		lines = append(lines, tgui.Esc("Next cycle "+humanize.RelTime(st.NextCycle, now, "ago", "from now")))
	}
	lines = append(lines, tgui.Esc(fmt.Sprintf("Deliveries: %d sent, %d failed, %d dropped", st.Sent, st.Failed, st.Dropped)))
	if f := st.LastFailure; f.Key != "" {
		line := fmt.Sprintf("Last failure: %s %s", f.Key, humanize.RelTime(f.At, now, "ago", "from now"))
		if f.Err != "" {
			line += ": " + tgui.TruncRunes(f.Err, maxFailureErr)
		}
		lines = append(lines, tgui.Esc(line))
	}
	if st.Tasks > 0 || st.Restarts > 0 {
		lines = append(lines, tgui.Esc(fmt.Sprintf("Tasks: %d running, %d restarts", st.Tasks, st.Restarts)))
	}
	if !st.StartedAt.IsZero() {
		lines = append(lines, tgui.Esc("Up since "+humanize.RelTime(st.StartedAt, now, "ago", "from now")))
	}
	return tgui.Lines(lines...).String()
}
