package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvWithin[T any](t *testing.T, s *Subscription[T], d time.Duration) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Recv(ctx)
}

func TestSendWithoutSubscribersIsDropped(t *testing.T) {
	t.Parallel()
	b := New[string](4)
	if err := b.Send("x"); err != nil {
		t.Fatalf("Send with no subscribers: %v", err)
	}

	sub := b.Subscribe()
	defer sub.Close()
	if err := b.Send("y"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := recvWithin(t, sub, time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got != "y" {
		t.Fatalf("first message = %q, want %q", got, "y")
	}
}

func TestSubscriberStartsAtNow(t *testing.T) {
	t.Parallel()
	b := New[int](8)
	early := b.Subscribe()
	defer early.Close()
	_ = b.Send(1)
	_ = b.Send(2)

	late := b.Subscribe()
	defer late.Close()
	_ = b.Send(3)

	got, err := recvWithin(t, late, time.Second)
	if err != nil || got != 3 {
		t.Fatalf("late Recv = %d, %v; want 3", got, err)
	}
	for _, want := range []int{1, 2, 3} {
		got, err := recvWithin(t, early, time.Second)
		if err != nil || got != want {
			t.Fatalf("early Recv = %d, %v; want %d", got, err, want)
		}
	}
}

func TestFanOutIsIndependent(t *testing.T) {
	t.Parallel()
	b := New[string](4)
	a := b.Subscribe()
	defer a.Close()
	c := b.Subscribe()
	defer c.Close()

	if got := b.Receivers(); got != 2 {
		t.Fatalf("Receivers = %d, want 2", got)
	}
	_ = b.Send("z")
	_ = b.Send("w")

	// c drains everything while a has not read yet.
	for _, want := range []string{"z", "w"} {
		got, err := recvWithin(t, c, time.Second)
		if err != nil || got != want {
			t.Fatalf("c Recv = %q, %v; want %q", got, err, want)
		}
	}
	if got := a.Pending(); got != 2 {
		t.Fatalf("a.Pending = %d, want 2", got)
	}
	for _, want := range []string{"z", "w"} {
		got, err := recvWithin(t, a, time.Second)
		if err != nil || got != want {
			t.Fatalf("a Recv = %q, %v; want %q", got, err, want)
		}
	}
}

func TestRecvWaitsForSend(t *testing.T) {
	t.Parallel()
	b := New[int](2)
	sub := b.Subscribe()
	defer sub.Close()

	done := make(chan int, 1)
	go func() {
		v, err := recvWithin(t, sub, 2*time.Second)
		if err == nil {
			done <- v
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	_ = b.Send(42)

	select {
	case v, ok := <-done:
		if !ok || v != 42 {
			t.Fatalf("Recv = %d (ok=%v), want 42", v, ok)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Recv never returned")
	}
}

func TestLaggedSubscriberSkipsAhead(t *testing.T) {
	t.Parallel()
	b := New[int](3)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		_ = b.Send(i)
	}

	_, err := recvWithin(t, sub, time.Second)
	var lag *LaggedError
	if !errors.As(err, &lag) {
		t.Fatalf("Recv error = %v, want *LaggedError", err)
	}
	if !errors.Is(err, ErrLagged) {
		t.Fatal("LaggedError should match ErrLagged")
	}
	if lag.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", lag.Skipped)
	}

	for _, want := range []int{3, 4, 5} {
		got, err := recvWithin(t, sub, time.Second)
		if err != nil || got != want {
			t.Fatalf("Recv = %d, %v; want %d", got, err, want)
		}
	}
}

func TestExactlyCapacityBehindIsNotLagged(t *testing.T) {
	t.Parallel()
	b := New[int](3)
	sub := b.Subscribe()
	defer sub.Close()
	for i := 1; i <= 3; i++ {
		_ = b.Send(i)
	}
	got, err := recvWithin(t, sub, time.Second)
	if err != nil || got != 1 {
		t.Fatalf("Recv = %d, %v; want 1, nil", got, err)
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()
	b := New[string](4)
	sub := b.Subscribe()
	_ = b.Send("last")
	b.Close()

	if err := b.Send("after"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
	got, err := recvWithin(t, sub, time.Second)
	if err != nil || got != "last" {
		t.Fatalf("Recv = %q, %v; want buffered message", got, err)
	}
	if _, err := recvWithin(t, sub, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv after drain = %v, want ErrClosed", err)
	}
	if _, err := recvWithin(t, b.Subscribe(), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv on subscription made after Close = %v, want ErrClosed", err)
	}
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()
	b := New[int](2)
	sub := b.Subscribe()
	sub.Close()
	sub.Close()
	if got := b.Receivers(); got != 0 {
		t.Fatalf("Receivers = %d, want 0", got)
	}
	if _, err := recvWithin(t, sub, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv on closed subscription = %v, want ErrClosed", err)
	}
}

func TestRecvHonorsContext(t *testing.T) {
	t.Parallel()
	b := New[int](2)
	sub := b.Subscribe()
	defer sub.Close()
	_, err := recvWithin(t, sub, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Recv = %v, want deadline exceeded", err)
	}
}

func TestNewClampsCapacity(t *testing.T) {
	t.Parallel()
	if got := New[int](0).Capacity(); got != 1 {
		t.Fatalf("Capacity = %d, want 1", got)
	}
}
