// Package router dispatches bot commands received by the Telegram adapter.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	kit "jiranotify/internal/transport"
	logx "jiranotify/pkg/logx"
)

// HandlerFunc serves one command invocation.
type HandlerFunc func(ctx context.Context, req *Request) error

// slowCommand promotes successful command logs from DEBUG to INFO.
const slowCommand = 750 * time.Millisecond

// Command is a single slash command.
type Command struct {
	Name        string // without the leading slash
	Description string
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML message back to the requesting chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Router maps incoming messages to commands. Unknown commands and plain
// text are ignored.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	cmds    map[string]Command
	order   []string
	timeout time.Duration
}

func New(log logx.Logger, adapter kit.Adapter, cmds ...Command) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:     log,
		adapter: adapter,
		cmds:    map[string]Command{},
		timeout: 15 * time.Second,
	}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		if _, dup := r.cmds[name]; !dup {
			r.order = append(r.order, name)
		}
		r.cmds[name] = c
	}
	return r
}

// Menu returns the command list in registration order.
func (r *Router) Menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, kit.BotCommand{Command: name, Description: r.cmds[name].Description})
	}
	return out
}

// PublishMenu pushes the command menu when the adapter supports it.
func (r *Router) PublishMenu(ctx context.Context) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, r.Menu()); err != nil {
		r.log.Warn("menu update failed", logx.Err(err))
	}
}

// DispatchLoop handles updates until ctx ends or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Debug("command dispatcher started", logx.Int("commands", len(r.cmds)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			_ = r.Handle(ctx, up)
		}
	}
}

// Handle processes one update.
func (r *Router) Handle(ctx context.Context, up kit.Update) error {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return nil
	}
	name, args, ok := parseCommand(up.Message.Text)
	if !ok {
		return nil
	}
	c, ok := r.cmds[name]
	if !ok {
		return nil
	}
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID},
		FromID:  up.Message.FromID,
		Command: name,
		Args:    args,
		Adapter: r.adapter,
		Logger:  r.log,
	}
	return r.invoke(ctx, c, req)
}

// invoke runs a handler under the router timeout. A panic becomes the
// returned error; the outcome is logged either way.
func (r *Router) invoke(ctx context.Context, c Command, req *Request) (err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("command handler panicked",
				logx.String("cmd", req.Command),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("command /%s panicked: %v", req.Command, p)
		}
		r.logOutcome(req, time.Since(start), err)
	}()
	return c.Handle(ctx, req)
}

func (r *Router) logOutcome(req *Request, took time.Duration, err error) {
	log := r.log.With(
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
		logx.Duration("took", took),
	)
	switch {
	case err != nil:
		log.Warn("command failed", logx.Err(err))
	case took >= slowCommand:
		log.Info("command served")
	default:
		log.Debug("command served")
	}
}

// parseCommand splits "/status@my_bot arg1 arg2" into ("status", [arg1 arg2]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
