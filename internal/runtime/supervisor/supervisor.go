package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "botox/pkg/logx"
)

// Unlimited is the max-restarts value meaning "restart forever".
const Unlimited = -1

// MonitorTaskName is the name of the built-in monitor task.
const MonitorTaskName = "TaskMonitor"

const defaultMonitorInterval = 10 * time.Second

var (
	// ErrRunning is returned by Register and RunAll once RunAll has started.
	ErrRunning = errors.New("supervisor: already running")
	// ErrAllExhausted is returned by RunAll when every task used up its restart budget.
	ErrAllExhausted = errors.New("supervisor: all tasks exhausted their restart budget")
)

// Entry is anything that can be run as a supervised task.
//
// Contract: Run is expected to loop until ctx ends. Any return, including a
// nil error, counts as an exit and triggers a restart-budget check.
type Entry interface {
	Run(ctx context.Context) error
}

// EntryFunc adapts a function to Entry.
type EntryFunc func(ctx context.Context) error

func (f EntryFunc) Run(ctx context.Context) error { return f(ctx) }

// Observer receives lifecycle notifications. Calls happen on the task's own
// goroutine and must not block.
type Observer interface {
	TaskStarted(name string)
	TaskExited(name string, err error, panicked bool)
	TaskExhausted(name string)
}

// MonitorHook is called by the monitor task on every tick.
type MonitorHook func(ctx context.Context, stats []TaskStats)

// Supervisor owns a registry of named tasks and runs them concurrently,
// restarting each one independently until its budget is used up.
//
// Lifecycle: Register tasks, then call RunAll exactly once. The registry is
// append-only and frozen once RunAll starts.
type Supervisor struct {
	log logx.Logger

	mu    sync.RWMutex
	tasks []*Task

	running atomic.Bool
	active  atomic.Int64

	restartDelay    time.Duration
	monitorInterval time.Duration
	monitorHooks    []MonitorHook
	noMonitor       bool
	observer        Observer
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithRestartDelay waits d between an exit and the next run. Zero restarts immediately.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.restartDelay = d
		}
	}
}

// WithMonitorInterval sets how often the monitor task reports. Non-positive keeps the default.
func WithMonitorInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.monitorInterval = d
		}
	}
}

// WithMonitorHook adds a callback run on every monitor tick.
func WithMonitorHook(h MonitorHook) Option {
	return func(s *Supervisor) {
		if h != nil {
			s.monitorHooks = append(s.monitorHooks, h)
		}
	}
}

// WithoutMonitor skips the built-in monitor task. Without it RunAll can
// return ErrAllExhausted.
func WithoutMonitor() Option {
	return func(s *Supervisor) { s.noMonitor = true }
}

func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// New builds a supervisor with the monitor task already registered.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{monitorInterval: defaultMonitorInterval}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if !s.noMonitor {
		s.tasks = append(s.tasks, newTask(MonitorTaskName, EntryFunc(s.monitor), Unlimited))
	}
	return s
}

// Register appends a task. It must be called before RunAll.
// maxRestarts is Unlimited (-1) or a non-negative budget.
func (s *Supervisor) Register(name string, entry Entry, maxRestarts int) error {
	if entry == nil {
		return fmt.Errorf("supervisor: register %q: nil entry", name)
	}
	if maxRestarts < Unlimited {
		return fmt.Errorf("supervisor: register %q: invalid max restarts %d", name, maxRestarts)
	}
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return ErrRunning
	}
	s.tasks = append(s.tasks, newTask(name, entry, maxRestarts))
	s.mu.Unlock()
	s.log.Debug("task registered", logx.String("task", name), logx.Int("max_restarts", maxRestarts))
	return nil
}

// List returns task names in registration order (monitor first).
func (s *Supervisor) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.name)
	}
	return out
}

// SnapshotStats reads each task under its own lock. The result is not an
// atomic view across tasks.
func (s *Supervisor) SnapshotStats() []TaskStats {
	s.mu.RLock()
	tasks := append([]*Task(nil), s.tasks...)
	s.mu.RUnlock()

	out := make([]TaskStats, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.stats())
	}
	return out
}

// Active returns how many task runs are currently in flight.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Running reports whether RunAll has been entered.
func (s *Supervisor) Running() bool { return s.running.Load() }

// RunAll runs every registered task until all of them are terminal.
//
// It returns ErrAllExhausted when every task used up its budget, and
// ctx.Err() when ctx was cancelled (no task is restarted after that).
// It may be called only once.
func (s *Supervisor) RunAll(ctx context.Context) error {
	// The flag flips under the write lock so a racing Register either lands
	// in the snapshot or gets ErrRunning.
	s.mu.Lock()
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return ErrRunning
	}
	tasks := append([]*Task(nil), s.tasks...)
	s.mu.Unlock()

	s.log.Info("supervisor running", logx.Int("tasks", len(tasks)))

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			s.runTask(ctx, t)
		}(t)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		s.log.Info("supervisor stopped", logx.String("reason", err.Error()))
		return err
	}
	s.log.Error("every task exhausted its restart budget")
	return ErrAllExhausted
}

func (s *Supervisor) runTask(ctx context.Context, t *Task) {
	log := s.log.With(logx.String("task", t.name))
	for {
		if ctx.Err() != nil {
			return
		}

		startedAt := t.markStart()
		s.active.Add(1)
		if s.observer != nil {
			s.observer.TaskStarted(t.name)
		}
		log.Debug("task started", logx.Int("restart_count", t.restartCount()))

		err, pan, stack := invoke(ctx, t.entry)
		s.active.Add(-1)
		if pan != nil {
			log.Error("task panicked", logx.Any("panic", pan), logx.Stack(stack))
			err = fmt.Errorf("panic: %v", pan)
		}

		// Shutdown: the exit is a consequence of cancellation, not a failure.
		if ctx.Err() != nil {
			t.markStop(startedAt, nil, false)
			if s.observer != nil {
				s.observer.TaskExited(t.name, nil, false)
			}
			return
		}

		t.markStop(startedAt, err, pan != nil)
		if s.observer != nil {
			s.observer.TaskExited(t.name, err, pan != nil)
		}

		count, exhausted := t.countExit()
		fields := []logx.Field{
			logx.Int("restart_count", count),
			logx.Int("max_restarts", t.maxRestarts),
			logx.Duration("ran", time.Since(startedAt)),
		}
		if err != nil {
			fields = append(fields, logx.Err(err))
		}
		if exhausted {
			log.Error("task exhausted restart budget", fields...)
			if s.observer != nil {
				s.observer.TaskExhausted(t.name)
			}
			return
		}
		if err != nil {
			log.Warn("task exited with error; restarting", fields...)
		} else {
			log.Warn("task returned; restarting", fields...)
		}

		if s.restartDelay > 0 {
			timer := time.NewTimer(s.restartDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// invoke runs one attempt with panic capture.
func invoke(ctx context.Context, e Entry) (err error, pan any, stack string) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			stack = string(debug.Stack())
		}
	}()
	err = e.Run(ctx)
	return
}

// monitor is the built-in observational task.
func (s *Supervisor) monitor(ctx context.Context) error {
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	log := s.log.With(logx.String("comp", "monitor"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		stats := s.SnapshotStats()
		for _, st := range stats {
			log.Info("task stats",
				logx.String("task", st.Name),
				logx.Int("restart_count", st.RestartCount),
				logx.Int("max_restarts", st.MaxRestarts),
				logx.Bool("alive", st.Alive),
				logx.Bool("exhausted", st.Exhausted),
			)
		}
		for _, h := range s.monitorHooks {
			h(ctx, stats)
		}
	}
}
