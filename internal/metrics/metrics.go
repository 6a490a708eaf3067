// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botox/internal/runtime/supervisor"
)

const namespace = "botox"

// Metrics owns a private registry, so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	taskStarts    *prometheus.CounterVec
	taskExits     *prometheus.CounterVec
	taskExhausted *prometheus.CounterVec
	taskRestarts  *prometheus.GaugeVec
	taskAlive     *prometheus.GaugeVec

	queueDepth *prometheus.GaugeVec
	lagged     *prometheus.CounterVec

	synthSeconds prometheus.Histogram
	synthErrors  prometheus.Counter
	clipsPlayed  *prometheus.CounterVec
	commands     *prometheus.CounterVec
	announced    *prometheus.CounterVec

	mu     sync.Mutex
	queues map[string]func() int
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		taskStarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_starts_total", Help: "Task runs started.",
		}, []string{"task"}),
		taskExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_exits_total", Help: "Task runs ended, by result (ok, error, panic).",
		}, []string{"task", "result"}),
		taskExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_exhausted_total", Help: "Tasks that used up their restart budget.",
		}, []string{"task"}),
		taskRestarts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "task_restart_count", Help: "Restart counter per task, sampled by the monitor.",
		}, []string{"task"}),
		taskAlive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "task_alive", Help: "1 while the task is running.",
		}, []string{"task"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Items waiting in a queue, sampled by the monitor.",
		}, []string{"queue"}),
		lagged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_skipped_total", Help: "Broadcast messages skipped by lagging subscribers.",
		}, []string{"subscriber"}),
		synthSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tts_synth_seconds", Help: "Speech synthesis latency.", Buckets: prometheus.DefBuckets,
		}),
		synthErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tts_synth_errors_total", Help: "Failed synthesis requests.",
		}),
		clipsPlayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_clips_total", Help: "Clips handled by the player, by result.",
		}, []string{"result"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total", Help: "Chat commands, by trigger and outcome.",
		}, []string{"command", "outcome"}),
		announced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "announcements_total", Help: "Announcements sent.",
		}, []string{"name"}),
		queues: map[string]func() int{},
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) TaskStarted(name string) {
	m.taskStarts.WithLabelValues(name).Inc()
	m.taskAlive.WithLabelValues(name).Set(1)
}

func (m *Metrics) TaskExited(name string, err error, panicked bool) {
	result := "ok"
	switch {
	case panicked:
		result = "panic"
	case err != nil:
		result = "error"
	}
	m.taskExits.WithLabelValues(name, result).Inc()
	m.taskAlive.WithLabelValues(name).Set(0)
}

func (m *Metrics) TaskExhausted(name string) { m.taskExhausted.WithLabelValues(name).Inc() }

// WatchQueue registers a depth source sampled on every monitor tick.
func (m *Metrics) WatchQueue(name string, depth func() int) {
	m.mu.Lock()
	m.queues[name] = depth
	m.mu.Unlock()
}

// ObserveTasks is a supervisor.MonitorHook.
func (m *Metrics) ObserveTasks(_ context.Context, stats []supervisor.TaskStats) {
	for _, st := range stats {
		m.taskRestarts.WithLabelValues(st.Name).Set(float64(st.RestartCount))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, depth := range m.queues {
		m.queueDepth.WithLabelValues(name).Set(float64(depth()))
	}
}

func (m *Metrics) Lagged(subscriber string, skipped uint64) {
	m.lagged.WithLabelValues(subscriber).Add(float64(skipped))
}

func (m *Metrics) ObserveSynth(took time.Duration, err error) {
	if err != nil {
		m.synthErrors.Inc()
		return
	}
	m.synthSeconds.Observe(took.Seconds())
}

func (m *Metrics) ClipPlayed(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.clipsPlayed.WithLabelValues(result).Inc()
}

func (m *Metrics) Command(trigger, outcome string) {
	m.commands.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) Announced(name string) { m.announced.WithLabelValues(name).Inc() }

var _ supervisor.Observer = (*Metrics)(nil)
