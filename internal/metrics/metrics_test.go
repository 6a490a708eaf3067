package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"botox/internal/runtime/supervisor"
)

func TestTaskLifecycleCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.TaskStarted("TTS")
	m.TaskExited("TTS", nil, false)
	m.TaskStarted("TTS")
	m.TaskExited("TTS", errors.New("x"), false)
	m.TaskStarted("TTS")
	m.TaskExited("TTS", errors.New("panic: y"), true)
	m.TaskExhausted("TTS")

	if got := testutil.ToFloat64(m.taskStarts.WithLabelValues("TTS")); got != 3 {
		t.Fatalf("starts = %v", got)
	}
	for _, result := range []string{"ok", "error", "panic"} {
		if got := testutil.ToFloat64(m.taskExits.WithLabelValues("TTS", result)); got != 1 {
			t.Fatalf("exits[%s] = %v", result, got)
		}
	}
	if got := testutil.ToFloat64(m.taskAlive.WithLabelValues("TTS")); got != 0 {
		t.Fatalf("alive = %v", got)
	}
	if got := testutil.ToFloat64(m.taskExhausted.WithLabelValues("TTS")); got != 1 {
		t.Fatalf("exhausted = %v", got)
	}
}

func TestMonitorHookSamplesQueues(t *testing.T) {
	t.Parallel()
	m := New()
	depth := 4
	m.WatchQueue("tts", func() int { return depth })
	m.ObserveTasks(context.Background(), []supervisor.TaskStats{{Name: "TWITCH", RestartCount: 2}})

	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("tts")); got != 4 {
		t.Fatalf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(m.taskRestarts.WithLabelValues("TWITCH")); got != 2 {
		t.Fatalf("restarts = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()
	m := New()
	m.Command("help", "ok")
	m.ObserveSynth(150*time.Millisecond, nil)
	m.ObserveSynth(0, errors.New("quota"))
	m.ClipPlayed(nil)
	m.Lagged("commands", 3)
	m.Announced("hydrate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`botox_commands_total{command="help",outcome="ok"} 1`,
		`botox_tts_synth_errors_total 1`,
		`botox_tts_synth_seconds_count 1`,
		`botox_audio_clips_total{result="ok"} 1`,
		`botox_broadcast_skipped_total{subscriber="commands"} 3`,
		`botox_announcements_total{name="hydrate"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
