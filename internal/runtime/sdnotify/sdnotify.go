// Package sdnotify talks to the systemd service manager: readiness,
// shutdown and watchdog keep-alives. Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "botox/pkg/logx"
)

// ErrNoWatchdog is returned by Watchdog.Run when the service manager did not
// ask for keep-alives. Register the task only when Enabled reports true.
var ErrNoWatchdog = errors.New("sdnotify: watchdog not enabled")

type Notifier struct {
	log logx.Logger
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log}
}

func (n *Notifier) send(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
	return sent
}

// Ready sends READY=1.
func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

// Stopping sends STOPPING=1.
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// WatchdogInterval returns the configured watchdog timeout, or 0.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog env invalid", logx.Err(err))
		return 0
	}
	return d
}

// Watchdog is the keep-alive task. It pings at half the watchdog timeout.
type Watchdog struct {
	n        *Notifier
	interval time.Duration
}

func (n *Notifier) Watchdog() *Watchdog {
	return &Watchdog{n: n, interval: n.WatchdogInterval() / 2}
}

func (w *Watchdog) Enabled() bool { return w.interval > 0 }

func (w *Watchdog) Run(ctx context.Context) error {
	if !w.Enabled() {
		return ErrNoWatchdog
	}
	w.n.log.Info("watchdog started", logx.Duration("every", w.interval))
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		w.n.send(daemon.SdNotifyWatchdog)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
