package commands

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"botox/internal/eventbus"
	"botox/internal/runtime/supervisor"
	"botox/internal/storage"
	"botox/internal/tts"
	"botox/internal/twitch"
	logx "botox/pkg/logx"
)

// Chat posts a line to the channel. twitch.Outbox satisfies it.
type Chat interface {
	Privmsg(text string)
}

// Speaker queues text for speech. tts.Worker satisfies it.
type Speaker interface {
	Say(speaker, text string)
}

// Deps are the collaborators of the dispatcher. Only Chat is required; a
// nil port disables the commands that need it.
type Deps struct {
	Chat     Chat
	Speech   Speaker
	Voices   VoicePort
	Playback PlaybackPort
	Volume   VolumePort
	Fetcher  ClipFetcher
	Clips    ClipSink
	Tasks    func() []supervisor.TaskStats
	Uptime   UptimeSource
	Audit    Auditor
	Identity *twitch.Identity
	External ExternalCommands
}

// Options are the live-tunable settings of the dispatcher.
type Options struct {
	Prefix       string
	Owners       []string
	Timeout      time.Duration
	Cooldown     time.Duration
	SpeakReplies bool
}

// Dispatcher is the command task: it reads chat from the broadcast channel
// and runs the matching command.
type Dispatcher struct {
	bus  *eventbus.Broadcast[twitch.ChatMessage]
	deps Deps
	log  logx.Logger

	mu       sync.RWMutex
	opts     Options
	owners   map[string]struct{}
	registry map[string]Command

	cooldowns *Cooldowns
	onResult  func(trigger, outcome string)
	onLag     func(skipped uint64)
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

// WithResultHook is called after every command with "ok", "error",
// "denied", "cooldown" or "die".
func WithResultHook(fn func(trigger, outcome string)) Option {
	return func(d *Dispatcher) { d.onResult = fn }
}

// WithLagHook is called when the subscription fell behind the channel.
func WithLagHook(fn func(skipped uint64)) Option {
	return func(d *Dispatcher) { d.onLag = fn }
}

func NewDispatcher(bus *eventbus.Broadcast[twitch.ChatMessage], deps Deps, opts Options, options ...Option) *Dispatcher {
	d := &Dispatcher{bus: bus, deps: deps, cooldowns: NewCooldowns(opts.Cooldown)}
	for _, o := range options {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.Apply(opts)

	reg := map[string]Command{}
	for _, c := range d.builtins() {
		reg[c.Trigger] = c
	}
	// External commands replace built-ins with the same trigger.
	for _, c := range deps.External.Build(d.prefix(), deps.Fetcher, deps.Clips, d.log) {
		reg[c.Trigger] = c
	}
	d.registry = reg
	return d
}

// Apply swaps the live settings (config reload).
func (d *Dispatcher) Apply(opts Options) {
	owners := map[string]struct{}{}
	for _, o := range opts.Owners {
		o = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(o), "@"))
		if o != "" {
			owners[o] = struct{}{}
		}
	}
	d.mu.Lock()
	d.opts = opts
	d.owners = owners
	d.mu.Unlock()
	d.cooldowns.Set(opts.Cooldown)
}

func (d *Dispatcher) settings() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

func (d *Dispatcher) prefix() string { return d.settings().Prefix }

// Triggers returns every registered trigger, sorted.
func (d *Dispatcher) Triggers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.registry))
	for t := range d.registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) helpText() string {
	p := d.prefix()
	ts := d.Triggers()
	for i, t := range ts {
		ts[i] = p + t
	}
	return "Available commands: " + strings.Join(ts, ", ")
}

// IsOwner reports whether login may run owner-only commands. The channel
// broadcaster always can.
func (d *Dispatcher) IsOwner(login string) bool {
	login = strings.ToLower(login)
	if d.deps.Identity != nil && login != "" && login == d.deps.Identity.Channel() {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.owners[login]
	return ok
}

// Run subscribes to the chat broadcast and dispatches until ctx ends, the
// channel closes or a command returns ErrDie.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.bus.Subscribe()
	defer sub.Close()
	d.log.Info("command dispatcher started", logx.Int("commands", len(d.Triggers())))

	for {
		msg, err := sub.Recv(ctx)
		var lag *eventbus.LaggedError
		switch {
		case err == nil:
		case errors.As(err, &lag):
			d.log.Warn("command subscription lagged", logx.Uint64("skipped", lag.Skipped))
			if d.onLag != nil {
				d.onLag(lag.Skipped)
			}
			continue
		default:
			return err
		}

		if msg.Whisper {
			continue
		}
		if err := d.Dispatch(ctx, msg); errors.Is(err, ErrDie) {
			return err
		}
	}
}

// Dispatch runs the command in msg, if any. Handler errors other than
// ErrDie are logged and audited, then swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg twitch.ChatMessage) error {
	opts := d.settings()
	trigger, args, argText, ok := parseLine(msg.Text, opts.Prefix)
	if !ok {
		return nil
	}
	d.mu.RLock()
	cmd, found := d.registry[trigger]
	d.mu.RUnlock()
	if !found {
		d.log.Debug("unknown command", logx.String("cmd", trigger), logx.String("sender", msg.Sender))
		return nil
	}

	rid := uuid.NewString()
	req := &Request{
		ReqID:   rid,
		Msg:     msg,
		Trigger: trigger,
		Args:    args,
		ArgText: argText,
		Owner:   d.IsOwner(msg.Sender),
		Started: time.Now(),
		Log: d.log.With(
			logx.String("rid", rid),
			logx.String("cmd", trigger),
		),
		reply: d.replier(opts.SpeakReplies),
	}

	timeout := opts.Timeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	final := Chain(
		guard(cmd),
		MWPanicRecover(),
		MWRequestLog(),
		MWAudit(d.deps.Audit),
		MWCooldown(d.cooldowns),
		MWTimeout(timeout),
	)
	err := final(ctx, req)
	d.result(trigger, err)
	return err
}

func guard(cmd Command) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if cmd.OwnerOnly && !req.Owner {
			req.Reply("Sorry @" + req.Msg.Sender + ", that command is for the bot owners")
			return ErrNotOwner
		}
		return cmd.Handle(ctx, req)
	}
}

func (d *Dispatcher) replier(speak bool) func(string) {
	return func(text string) {
		if d.deps.Chat != nil {
			d.deps.Chat.Privmsg(text)
		}
		if speak && d.deps.Speech != nil {
			d.deps.Speech.Say(tts.BotSpeaker, text)
		}
	}
}

func (d *Dispatcher) result(trigger string, err error) {
	if d.onResult == nil {
		return
	}
	d.onResult(trigger, Outcome(err))
}

// Outcome classifies a command result for metrics and the command log.
func Outcome(err error) string {
	switch {
	case err == nil:
		return storage.OutcomeOK
	case errors.Is(err, ErrDie):
		return storage.OutcomeDie
	case errors.Is(err, ErrNotOwner):
		return storage.OutcomeDenied
	case errors.Is(err, ErrCooldown):
		return storage.OutcomeCooldown
	default:
		return storage.OutcomeError
	}
}

// HasCommand reports whether trigger is registered.
func (d *Dispatcher) HasCommand(trigger string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.registry[trigger]
	return ok
}
