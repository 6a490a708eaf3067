package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"botox/internal/audio"
	"botox/internal/queue"
	"botox/internal/storage"
	logx "botox/pkg/logx"
)

// BotSpeaker is the speaker name used for the bot's own lines.
const BotSpeaker = "BOT"

// Utterance is one line waiting to be spoken.
type Utterance struct {
	Speaker string
	Text    string
	Voice   string // optional override
}

// Dedup remembers recently spoken lines by hash. storage.Store satisfies it.
type Dedup interface {
	MarkSpoken(ctx context.Context, key storage.LineKey, until time.Time) error
	SpokenUntil(ctx context.Context, key storage.LineKey) (until time.Time, ok bool, err error)
	PruneSpoken(ctx context.Context, now time.Time) (int, error)
}

type WorkerOptions struct {
	MaxChars    int
	BotVoice    string
	DedupWindow time.Duration
}

// Worker is the speech task: it pops utterances, synthesizes them and queues
// the audio for the player.
type Worker struct {
	in     *queue.Queue[Utterance]
	out    *queue.Queue[audio.Clip]
	synth  Synthesizer
	voices *Registry
	opts   WorkerOptions
	dedup  Dedup
	log    logx.Logger

	onSynth func(took time.Duration, err error)
}

type WorkerOption func(*Worker)

func WithWorkerLogger(log logx.Logger) WorkerOption { return func(w *Worker) { w.log = log } }

// WithDedup sets the dedup backend. Without it an in-memory map is used.
func WithDedup(d Dedup) WorkerOption { return func(w *Worker) { w.dedup = d } }

// WithSynthHook is called after every synthesis attempt.
func WithSynthHook(fn func(took time.Duration, err error)) WorkerOption {
	return func(w *Worker) { w.onSynth = fn }
}

func NewWorker(in *queue.Queue[Utterance], out *queue.Queue[audio.Clip], synth Synthesizer, voices *Registry, opts WorkerOptions, options ...WorkerOption) *Worker {
	if opts.BotVoice == "" {
		opts.BotVoice = "it"
	}
	w := &Worker{in: in, out: out, synth: synth, voices: voices, opts: opts}
	for _, o := range options {
		o(w)
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	if w.dedup == nil {
		w.dedup = newMemDedup()
	}
	return w
}

// Say queues a line spoken by speaker.
func (w *Worker) Say(speaker, text string) {
	w.in.Push(Utterance{Speaker: speaker, Text: text})
}

// Pending returns the number of queued utterances.
func (w *Worker) Pending() int { return w.in.Len() }

// Run serves the queue until ctx ends. Synthesis failures are logged and
// the worker moves on. With a dedup window set, expired windows are pruned
// once per window while Run is active.
func (w *Worker) Run(ctx context.Context) error {
	if w.opts.DedupWindow > 0 {
		pctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go w.pruneLoop(pctx, max(w.opts.DedupWindow, time.Second))
	}
	for {
		u, err := w.in.Pop(ctx)
		if err != nil {
			return err
		}
		w.handle(ctx, u)
	}
}

func (w *Worker) handle(ctx context.Context, u Utterance) {
	text := Sanitize(u.Text, w.opts.MaxChars)
	if text == "" {
		return
	}
	if w.duplicate(ctx, u.Speaker, text) {
		w.log.Debug("duplicate line skipped", logx.String("speaker", u.Speaker))
		return
	}

	voice := w.voiceFor(u)
	start := time.Now()
	data, err := w.synth.Synthesize(ctx, text, voice)
	took := time.Since(start)
	if w.onSynth != nil {
		w.onSynth(took, err)
	}
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("synthesis failed", logx.String("speaker", u.Speaker), logx.String("voice", voice), logx.Err(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	w.out.Push(audio.Clip{Data: data, Source: "tts:" + u.Speaker})
	w.log.Debug("line synthesized", logx.String("speaker", u.Speaker), logx.String("voice", voice), logx.Duration("took", took))
}

func (w *Worker) voiceFor(u Utterance) string {
	if v := strings.TrimSpace(u.Voice); v != "" {
		return v
	}
	if u.Speaker == BotSpeaker || w.voices == nil {
		return w.opts.BotVoice
	}
	return w.voices.VoiceFor(u.Speaker)
}

func (w *Worker) duplicate(ctx context.Context, speaker, text string) bool {
	if w.opts.DedupWindow <= 0 {
		return false
	}
	key := storage.KeyFor(speaker, text)
	now := time.Now()
	if until, ok, err := w.dedup.SpokenUntil(ctx, key); err == nil && ok && now.Before(until) {
		return true
	}
	if err := w.dedup.MarkSpoken(ctx, key, now.Add(w.opts.DedupWindow)); err != nil {
		w.log.Debug("dedup mark failed", logx.Err(err))
	}
	return false
}

func (w *Worker) pruneLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := w.dedup.PruneSpoken(ctx, now)
			switch {
			case err != nil && ctx.Err() == nil:
				w.log.Debug("dedup prune failed", logx.Err(err))
			case n > 0:
				w.log.Trace("dedup windows expired", logx.Int("count", n))
			}
		}
	}
}

type memDedup struct {
	mu sync.Mutex
	m  map[storage.LineKey]time.Time
}

func newMemDedup() *memDedup { return &memDedup{m: map[storage.LineKey]time.Time{}} }

func (d *memDedup) MarkSpoken(_ context.Context, key storage.LineKey, until time.Time) error {
	d.mu.Lock()
	d.m[key] = until
	d.mu.Unlock()
	return nil
}

func (d *memDedup) SpokenUntil(_ context.Context, key storage.LineKey) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func (d *memDedup) PruneSpoken(_ context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, until := range d.m {
		if !until.After(now) {
			delete(d.m, k)
			n++
		}
	}
	return n, nil
}
