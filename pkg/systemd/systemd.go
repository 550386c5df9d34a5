// Package systemd reports service state to systemd (sd_notify).
//
// Every call is a no-op when the process was not started by systemd
// (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "jiranotify/pkg/logx"
)

// Notifier sends readiness, stopping and watchdog notifications.
type Notifier struct {
	log logx.Logger
	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnvironment bool, state string) (bool, error)
	// watchdog is daemon.SdWatchdogEnabled; replaced in tests.
	watchdog func(unsetEnvironment bool) (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

// Ready sends READY=1.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping sends STOPPING=1.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sends a free-form STATUS= line shown by systemctl status.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// WatchdogInterval returns the keepalive period (half of WATCHDOG_USEC),
// or 0 when the watchdog is not enabled for this process.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog sends WATCHDOG=1 until ctx ends. It returns immediately when
// the watchdog is not enabled.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	every := n.WatchdogInterval()
	if every <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
