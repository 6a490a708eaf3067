package supervisor

import (
	"fmt"
	"sync"
	"time"
)

// Task is one long-running job owned by the supervisor.
//
// restartCount only grows. A task stops for good once
// maxRestarts >= 0 && restartCount > maxRestarts.
type Task struct {
	name        string
	entry       Entry
	maxRestarts int

	mu           sync.RWMutex
	count        int
	alive        bool
	exhausted    bool
	panics       uint64
	lastErr      string
	lastErrAt    time.Time
	lastStartAt  time.Time
	lastStopAt   time.Time
	totalRuntime time.Duration
}

// TaskStats is a point-in-time view of one task.
type TaskStats struct {
	Name         string        `json:"name"`
	RestartCount int           `json:"restart_count"`
	MaxRestarts  int           `json:"max_restarts"`
	Alive        bool          `json:"alive"`
	Exhausted    bool          `json:"exhausted"`
	Panics       uint64        `json:"panics"`
	LastErr      string        `json:"last_err,omitempty"`
	LastErrAt    time.Time     `json:"last_err_at"`
	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at"`
	TotalRuntime time.Duration `json:"total_runtime"`
}

// String renders the stats the way the monitor prints them in chat.
func (st TaskStats) String() string {
	limit := "unlimited"
	if st.MaxRestarts != Unlimited {
		limit = fmt.Sprint(st.MaxRestarts)
	}
	state := "alive"
	switch {
	case st.Exhausted:
		state = "exhausted"
	case !st.Alive:
		state = "idle"
	}
	return fmt.Sprintf("%s %s restarts=%d/%s", st.Name, state, st.RestartCount, limit)
}

func newTask(name string, entry Entry, maxRestarts int) *Task {
	return &Task{name: name, entry: entry, maxRestarts: maxRestarts}
}

func (t *Task) restartCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

func (t *Task) markStart() time.Time {
	now := time.Now()
	t.mu.Lock()
	t.alive = true
	t.lastStartAt = now
	t.mu.Unlock()
	return now
}

func (t *Task) markStop(startedAt time.Time, err error, panicked bool) {
	now := time.Now()
	t.mu.Lock()
	t.alive = false
	t.lastStopAt = now
	t.totalRuntime += now.Sub(startedAt)
	if panicked {
		t.panics++
	}
	if err != nil {
		t.lastErr = err.Error()
		t.lastErrAt = now
	}
	t.mu.Unlock()
}

// countExit increments the restart counter after an exit and reports
// whether the budget is now used up.
func (t *Task) countExit() (count int, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	if t.maxRestarts != Unlimited && t.count > t.maxRestarts {
		t.exhausted = true
	}
	return t.count, t.exhausted
}

func (t *Task) stats() TaskStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskStats{
		Name:         t.name,
		RestartCount: t.count,
		MaxRestarts:  t.maxRestarts,
		Alive:        t.alive,
		Exhausted:    t.exhausted,
		Panics:       t.panics,
		LastErr:      t.lastErr,
		LastErrAt:    t.lastErrAt,
		LastStartAt:  t.lastStartAt,
		LastStopAt:   t.lastStopAt,
		TotalRuntime: t.totalRuntime,
	}
}
