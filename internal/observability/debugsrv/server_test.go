package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"botox/internal/runtime/supervisor"
)

func stats() []supervisor.TaskStats {
	return []supervisor.TaskStats{{Name: "TWITCH", MaxRestarts: 3, Alive: true}}
}

func TestRoutesAndAuth(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("m 1\n")) })
	h := New(Config{Token: "s3cret"}, WithTasks(stats), WithMetrics(metrics)).Handler()

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "no token", path: "/healthz", want: http.StatusUnauthorized},
		{name: "bearer", path: "/healthz", header: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong bearer", path: "/healthz", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "query token", path: "/metrics?token=s3cret", want: http.StatusOK},
		{name: "wrong query token", path: "/metrics?token=x", header: "Bearer s3cret", want: http.StatusUnauthorized},
		{name: "tasks", path: "/tasks", header: "Bearer s3cret", want: http.StatusOK},
		{name: "pprof index", path: "/debug/pprof/", header: "Bearer s3cret", want: http.StatusOK},
		{name: "pprof redirect", path: "/debug/pprof", want: http.StatusPermanentRedirect},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("%s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestTasksEndpointEncodesSnapshot(t *testing.T) {
	t.Parallel()
	h := New(Config{}, WithTasks(stats)).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))

	var got []supervisor.TaskStats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "TWITCH" || !got[0].Alive {
		t.Fatalf("tasks = %+v", got)
	}
}

func TestCustomPrefix(t *testing.T) {
	t.Parallel()
	h := New(Config{Prefix: "dbg"}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dbg/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/dbg/ = %d", rec.Code)
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	err := New(Config{Addr: "0.0.0.0:0"}).Run(context.Background())
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Run = %v, want ErrInsecureBind", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not reachable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("serve = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
