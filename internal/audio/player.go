package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"botox/internal/queue"
	logx "botox/pkg/logx"
)

// Clip is one piece of audio waiting to be played.
type Clip struct {
	Data   []byte // mp3
	Source string // "tts", "command:<name>", ...
}

// Backend plays one mp3 clip and returns when it finished or ctx ended.
type Backend interface {
	Play(ctx context.Context, data []byte, gain float64) error
}

type State int32

const (
	StateReady State = iota
	StateBusy
)

func (s State) String() string {
	if s == StateBusy {
		return "busy"
	}
	return "ready"
}

// Player is the audio task.
type Player struct {
	clips   *queue.Queue[Clip]
	backend Backend
	control *Control
	log     logx.Logger

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc

	onPlayed func(c Clip, took time.Duration, err error)
}

type PlayerOption func(*Player)

func WithPlayerLogger(log logx.Logger) PlayerOption { return func(p *Player) { p.log = log } }

// WithPlayedHook is called after every clip (err is nil when it completed).
func WithPlayedHook(fn func(c Clip, took time.Duration, err error)) PlayerOption {
	return func(p *Player) { p.onPlayed = fn }
}

func NewPlayer(clips *queue.Queue[Clip], backend Backend, control *Control, opts ...PlayerOption) *Player {
	p := &Player{clips: clips, backend: backend, control: control}
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p
}

// Enqueue queues a clip for playback.
func (p *Player) Enqueue(c Clip) {
	if len(c.Data) == 0 {
		return
	}
	p.clips.Push(c)
}

func (p *Player) State() State { return State(p.state.Load()) }

// Pending returns the number of queued clips.
func (p *Player) Pending() int { return p.clips.Len() }

// Stop cancels the clip that is playing. It reports false when idle.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	p.cancel()
	return true
}

// Run plays clips until ctx ends.
func (p *Player) Run(ctx context.Context) error {
	for {
		clip, err := p.clips.Pop(ctx)
		if err != nil {
			return err
		}
		p.play(ctx, clip)
	}
}

func (p *Player) play(ctx context.Context, clip Clip) {
	clipCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	p.state.Store(int32(StateBusy))

	gain := 1.0
	if p.control != nil {
		gain = p.control.Gain()
	}
	start := time.Now()
	err := p.backend.Play(clipCtx, clip.Data, gain)
	stopped := clipCtx.Err() != nil && ctx.Err() == nil

	p.mu.Lock()
	p.cancel = nil
	p.mu.Unlock()
	cancel()
	p.state.Store(int32(StateReady))

	switch {
	case stopped:
		p.log.Info("clip stopped", logx.String("source", clip.Source))
		err = nil
	case err != nil && !errors.Is(err, context.Canceled):
		p.log.Error("clip playback failed", logx.String("source", clip.Source), logx.Err(err))
	default:
		p.log.Debug("clip played", logx.String("source", clip.Source), logx.Duration("took", time.Since(start)))
	}
	if p.onPlayed != nil {
		p.onPlayed(clip, time.Since(start), err)
	}
}
