package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func statsFor(t *testing.T, s *Supervisor, name string) TaskStats {
	t.Helper()
	for _, st := range s.SnapshotStats() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("task %q not found", name)
	return TaskStats{}
}

func startRunAll(t *testing.T, s *Supervisor) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, c := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- s.RunAll(ctx) }()
	t.Cleanup(c)
	return c, ch
}

func TestBoundedBudgetRunsExactlyBudgetPlusOne(t *testing.T) {
	t.Parallel()
	s := New()
	var calls atomic.Int64
	if err := s.Register("flaky", EntryFunc(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}), 2); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cancel, done := startRunAll(t, s)
	waitFor(t, 2*time.Second, func() bool { return statsFor(t, s, "flaky").Exhausted })
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 3 {
		t.Fatalf("invocations = %d, want 3", got)
	}
	st := statsFor(t, s, "flaky")
	if st.RestartCount != 3 || st.MaxRestarts != 2 || st.Alive {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.LastErr == "" {
		t.Fatal("expected last error to be recorded")
	}

	// The monitor keeps RunAll alive until cancellation.
	select {
	case err := <-done:
		t.Fatalf("RunAll returned early: %v", err)
	default:
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunAll = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return after cancel")
	}
}

func TestCleanExitIsRestartedToo(t *testing.T) {
	t.Parallel()
	s := New(WithoutMonitor())
	var calls atomic.Int64
	_ = s.Register("ok", EntryFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}), 1)

	err := s.RunAll(context.Background())
	if !errors.Is(err, ErrAllExhausted) {
		t.Fatalf("RunAll = %v, want ErrAllExhausted", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("invocations = %d, want 2", got)
	}
}

func TestZeroBudgetRunsOnce(t *testing.T) {
	t.Parallel()
	s := New(WithoutMonitor())
	var calls atomic.Int64
	_ = s.Register("once", EntryFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}), 0)
	if err := s.RunAll(context.Background()); !errors.Is(err, ErrAllExhausted) {
		t.Fatalf("RunAll = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("invocations = %d, want 1", got)
	}
}

func TestUnlimitedBudgetKeepsRestarting(t *testing.T) {
	t.Parallel()
	s := New()
	var calls atomic.Int64
	_ = s.Register("forever", EntryFunc(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("again")
	}), Unlimited)

	cancel, done := startRunAll(t, s)
	waitFor(t, 5*time.Second, func() bool { return calls.Load() >= 100 })
	if st := statsFor(t, s, "forever"); st.Exhausted {
		t.Fatalf("unlimited task marked exhausted: %+v", st)
	}
	cancel()
	<-done
}

func TestTasksRunIndependently(t *testing.T) {
	t.Parallel()
	s := New(WithoutMonitor())
	longStarted := make(chan struct{})
	var failing atomic.Int64

	_ = s.Register("failing", EntryFunc(func(ctx context.Context) error {
		failing.Add(1)
		return errors.New("fail")
	}), Unlimited)
	_ = s.Register("long", EntryFunc(func(ctx context.Context) error {
		close(longStarted)
		<-ctx.Done()
		return ctx.Err()
	}), 0)

	cancel, done := startRunAll(t, s)
	select {
	case <-longStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("long-running task never started")
	}
	waitFor(t, 2*time.Second, func() bool { return failing.Load() > 10 })
	if st := statsFor(t, s, "long"); !st.Alive || st.RestartCount != 0 {
		t.Fatalf("long task disturbed: %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunAll = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not stop")
	}
	if st := statsFor(t, s, "long"); st.RestartCount != 0 || st.LastErr != "" {
		t.Fatalf("cancellation must not count as a failure: %+v", st)
	}
}

func TestPanicIsRecoveredAndCounted(t *testing.T) {
	t.Parallel()
	s := New(WithoutMonitor())
	var calls atomic.Int64
	_ = s.Register("panicky", EntryFunc(func(ctx context.Context) error {
		calls.Add(1)
		panic("kaboom")
	}), 1)

	if err := s.RunAll(context.Background()); !errors.Is(err, ErrAllExhausted) {
		t.Fatalf("RunAll = %v", err)
	}
	st := statsFor(t, s, "panicky")
	if calls.Load() != 2 || st.Panics != 2 {
		t.Fatalf("calls=%d stats=%+v", calls.Load(), st)
	}
	if st.LastErr != "panic: kaboom" {
		t.Fatalf("LastErr = %q", st.LastErr)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	noop := EntryFunc(func(ctx context.Context) error { return nil })
	tests := []struct {
		name    string
		entry   Entry
		max     int
		wantErr bool
	}{
		{name: "unlimited", entry: noop, max: Unlimited},
		{name: "zero", entry: noop, max: 0},
		{name: "nil entry", entry: nil, max: 1, wantErr: true},
		{name: "below unlimited", entry: noop, max: -2, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := New().Register(tt.name, tt.entry, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryFreezesOnceRunning(t *testing.T) {
	t.Parallel()
	s := New()
	cancel, done := startRunAll(t, s)
	waitFor(t, time.Second, s.Running)

	err := s.Register("late", EntryFunc(func(ctx context.Context) error { return nil }), 0)
	if !errors.Is(err, ErrRunning) {
		t.Fatalf("Register after RunAll = %v, want ErrRunning", err)
	}
	if err := s.RunAll(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second RunAll = %v, want ErrRunning", err)
	}
	cancel()
	<-done
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	t.Parallel()
	s := New()
	noop := EntryFunc(func(ctx context.Context) error { return nil })
	for _, n := range []string{"TWITCH", "TTS", "AUDIO_PLAYER"} {
		_ = s.Register(n, noop, 3)
	}
	got := s.List()
	want := []string{MonitorTaskName, "TWITCH", "TTS", "AUDIO_PLAYER"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List = %v, want %v", got, want)
		}
	}
}

func TestMonitorHookReceivesSnapshots(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen []TaskStats
	)
	s := New(
		WithMonitorInterval(5*time.Millisecond),
		WithMonitorHook(func(ctx context.Context, stats []TaskStats) {
			mu.Lock()
			seen = stats
			mu.Unlock()
		}),
	)
	_ = s.Register("worker", EntryFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}), 0)

	cancel, done := startRunAll(t, s)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if seen[0].Name != MonitorTaskName || seen[0].MaxRestarts != Unlimited {
		t.Fatalf("unexpected monitor stats: %+v", seen[0])
	}
}

type countingObserver struct {
	started, exited, exhausted atomic.Int64
}

func (o *countingObserver) TaskStarted(string)             { o.started.Add(1) }
func (o *countingObserver) TaskExited(string, error, bool) { o.exited.Add(1) }
func (o *countingObserver) TaskExhausted(string)           { o.exhausted.Add(1) }

func TestObserverSeesLifecycle(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	s := New(WithoutMonitor(), WithObserver(obs))
	_ = s.Register("a", EntryFunc(func(ctx context.Context) error { return nil }), 2)

	_ = s.RunAll(context.Background())
	if obs.started.Load() != 3 || obs.exited.Load() != 3 || obs.exhausted.Load() != 1 {
		t.Fatalf("observer counts: started=%d exited=%d exhausted=%d",
			obs.started.Load(), obs.exited.Load(), obs.exhausted.Load())
	}
}

func TestRestartDelayStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(WithoutMonitor(), WithRestartDelay(time.Hour))
	var calls atomic.Int64
	_ = s.Register("slow-restart", EntryFunc(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("x")
	}), Unlimited)

	cancel, done := startRunAll(t, s)
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll stuck in restart delay")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("invocations = %d, want 1", got)
	}
}

func TestTaskStatsString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		st   TaskStats
		want string
	}{
		{st: TaskStats{Name: "TaskMonitor", MaxRestarts: Unlimited, Alive: true}, want: "TaskMonitor alive restarts=0/unlimited"},
		{st: TaskStats{Name: "TTS", RestartCount: 4, MaxRestarts: 3, Exhausted: true}, want: "TTS exhausted restarts=4/3"},
		{st: TaskStats{Name: "TWITCH", RestartCount: 1, MaxRestarts: 3}, want: "TWITCH idle restarts=1/3"},
	}
	for _, tt := range tests {
		if got := tt.st.String(); got != tt.want {
			t.Fatalf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRegisterRacingRunAllNeverLosesATask(t *testing.T) {
	t.Parallel()
	for round := 0; round < 50; round++ {
		s := New(WithoutMonitor())
		var ran atomic.Int64
		_ = s.Register("first", EntryFunc(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}), 0)

		regErr := make(chan error, 1)
		go func() {
			regErr <- s.Register("late", EntryFunc(func(ctx context.Context) error {
				ran.Add(1)
				return nil
			}), 0)
		}()
		if err := s.RunAll(context.Background()); !errors.Is(err, ErrAllExhausted) {
			t.Fatalf("RunAll = %v", err)
		}
		err := <-regErr
		want := int64(1)
		if err == nil {
			want = 2
		} else if !errors.Is(err, ErrRunning) {
			t.Fatalf("Register = %v", err)
		}
		if got := ran.Load(); got != want {
			t.Fatalf("round %d: ran %d tasks, want %d (Register err=%v)", round, got, want, err)
		}
	}
}
