package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"botox/internal/announce"
	"botox/internal/audio"
	"botox/internal/commands"
	"botox/internal/config"
	"botox/internal/eventbus"
	"botox/internal/metrics"
	"botox/internal/observability/debugsrv"
	"botox/internal/queue"
	"botox/internal/runtime/sdnotify"
	"botox/internal/runtime/supervisor"
	"botox/internal/storage"
	"botox/internal/tts"
	"botox/internal/twitch"
	logx "botox/pkg/logx"
)

// Task names as they appear in logs, /tasks and the tasks command.
const (
	TaskTwitch   = "TWITCH"
	TaskTTS      = "TTS"
	TaskAudio    = "AUDIO_PLAYER"
	TaskCommands = "BOT_COMMANDS"
	TaskAnnounce = "ANNOUNCER"
	TaskDebug    = "DEBUG_HTTP"
	TaskWatchdog = "SYSTEMD_WATCHDOG"
	TaskConfig   = "CONFIG_WATCH"
	TaskReload   = "CONFIG_APPLY"
)

type Options struct {
	ConfigPath string
	EnvFile    string
}

// App owns every instance of the bot. Nothing is global: queues, the
// broadcast channel and the supervisor are built here and handed to the
// tasks that use them.
type App struct {
	cfgm    *config.ConfigManager
	secrets config.Secrets

	log   logx.Logger
	logs  *logx.Service
	store storage.Store
	stats *metrics.Metrics
	sd    *sdnotify.Notifier
	sup   *supervisor.Supervisor

	id      *twitch.Identity
	out     *twitch.Outbox
	bus     *eventbus.Broadcast[twitch.ChatMessage]
	speech  *queue.Queue[tts.Utterance]
	clips   *queue.Queue[audio.Clip]
	control *audio.Control

	client  *twitch.Client
	worker  *tts.Worker
	player  *audio.Player
	cmds    *commands.Dispatcher
	ann     *announce.Announcer
	debug   *debugsrv.Server
	watchdg *sdnotify.Watchdog

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	exhausted atomic.Bool
	stopOnce  sync.Once
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	secrets, err := config.LoadSecrets(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	alog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		secrets: secrets,
		log:     alog,
		logs:    logs,
		stats:   metrics.New(),
		sd:      sdnotify.New(log.With(logx.String("comp", "systemd"))),
		done:    make(chan struct{}),
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		alog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.sup = supervisor.New(
		supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))),
		supervisor.WithRestartDelay(cfg.Supervisor.Delay()),
		supervisor.WithMonitorInterval(cfg.Supervisor.Interval()),
		supervisor.WithMonitorHook(a.stats.ObserveTasks),
		supervisor.WithMonitorHook(a.checkExhausted),
		supervisor.WithObserver(a.stats),
	)

	if err := a.build(cfg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	if err := a.register(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	dir := cfg.Bot.Dir()

	tw := mapTwitch(cfg, a.secrets)
	a.id = twitch.NewIdentity(tw.Nick, tw.Channel)
	a.out = twitch.NewOutbox(a.id, cfg.Twitch.LineLimit())
	a.logs.SetWhisperer(a.out)
	a.bus = eventbus.New[twitch.ChatMessage](cfg.Twitch.BroadcastCap())
	a.speech = queue.New[tts.Utterance]()
	a.clips = queue.New[audio.Clip]()
	a.control = audio.LoadControl(dir, log.With(logx.String("comp", "audio")))

	voices := tts.OpenRegistry(dir, cfg.TTS.Voices, log.With(logx.String("comp", "voices")))

	var speak twitch.SpeechSink
	var speaker commands.Speaker
	if cfg.TTS.On() {
		wopts := []tts.WorkerOption{
			tts.WithWorkerLogger(log.With(logx.String("comp", "tts"))),
			tts.WithSynthHook(a.stats.ObserveSynth),
		}
		if a.store != nil {
			wopts = append(wopts, tts.WithDedup(a.store))
		}
		a.worker = tts.NewWorker(a.speech, a.clips, tts.NewGoogle(cfg.TTS.URL(), cfg.TTS.Timeout()), voices, mapWorker(cfg), wopts...)
		speak = a.worker.Say
		speaker = a.worker
	}

	if cfg.Audio.On() {
		a.player = audio.NewPlayer(a.clips, audio.NewOtoBackend(0), a.control,
			audio.WithPlayerLogger(log.With(logx.String("comp", "audio"))),
			audio.WithPlayedHook(func(_ audio.Clip, _ time.Duration, err error) { a.stats.ClipPlayed(err) }),
		)
	}

	copts := []twitch.ClientOption{twitch.WithLogger(log.With(logx.String("comp", "twitch")))}
	if speak != nil {
		copts = append(copts, twitch.WithSpeechSink(speak))
	}
	a.client = twitch.NewClient(tw, a.id, a.out, a.bus, copts...)

	deps := commands.Deps{
		Chat:     a.out,
		Speech:   speaker,
		Voices:   voices,
		Tasks:    a.sup.SnapshotStats,
		Identity: a.id,
		External: commands.LoadExternalCommands(dir, log.With(logx.String("comp", "commands"))),
	}
	if a.store != nil {
		deps.Audit = a.store
	}
	if a.player != nil {
		deps.Playback = a.player
		deps.Clips = a.player
		deps.Volume = a.control
		deps.Fetcher = audio.NewFetcher(cfg.Audio.Timeout(), cfg.Audio.ClipLimit())
	}
	if cfg.Helix.Enabled {
		if !a.secrets.HelixReady() {
			a.log.Warn("helix enabled but credentials are missing; uptime disabled")
		} else if up, err := commands.NewHelixUptime(a.secrets.ClientID, a.secrets.HelixToken); err != nil {
			a.log.Warn("helix client failed; uptime disabled", logx.Err(err))
		} else {
			deps.Uptime = up
		}
	}
	a.cmds = commands.NewDispatcher(a.bus, deps, mapCommands(cfg),
		commands.WithLogger(log.With(logx.String("comp", "commands"))),
		commands.WithResultHook(a.stats.Command),
		commands.WithLagHook(func(n uint64) { a.stats.Lagged("commands", n) }),
	)

	var annSpeaker announce.Speaker
	if speaker != nil {
		annSpeaker = speaker
	}
	a.ann = announce.New(cfg.Announcements, a.out, annSpeaker,
		announce.WithLogger(log.With(logx.String("comp", "announce"))),
		announce.WithFireHook(a.stats.Announced),
	)

	if cfg.Debug.Enabled {
		dcfg, err := mapDebug(cfg, a.secrets)
		if err != nil {
			return err
		}
		dopts := []debugsrv.Option{
			debugsrv.WithLogger(log.With(logx.String("comp", "debug"))),
			debugsrv.WithTasks(a.sup.SnapshotStats),
		}
		if cfg.Debug.MetricsOn() {
			dopts = append(dopts, debugsrv.WithMetrics(a.stats.Handler()))
		}
		a.debug = debugsrv.New(dcfg, dopts...)
	}

	if cfg.Systemd.Enabled {
		if wd := a.sd.Watchdog(); wd.Enabled() {
			a.watchdg = wd
		}
	}

	a.stats.WatchQueue("speech", a.speech.Len)
	a.stats.WatchQueue("audio", a.clips.Len)
	a.stats.WatchQueue("outbox", a.out.Len)
	return nil
}

func (a *App) register(cfg *config.Config) error {
	budget := cfg.Supervisor.Budget()
	type entry struct {
		name  string
		task  supervisor.Entry
		limit int
	}
	entries := []entry{
		{TaskConfig, supervisor.EntryFunc(a.cfgm.Watch), supervisor.Unlimited},
		{TaskReload, supervisor.EntryFunc(a.applyLoop), supervisor.Unlimited},
		{TaskTwitch, a.client, budget},
		{TaskCommands, a.cmds, budget},
		{TaskAnnounce, a.ann, budget},
	}
	if a.worker != nil {
		entries = append(entries, entry{TaskTTS, a.worker, budget})
	}
	if a.player != nil {
		entries = append(entries, entry{TaskAudio, a.player, budget})
	}
	if a.debug != nil {
		entries = append(entries, entry{TaskDebug, a.debug, budget})
	}
	if a.watchdg != nil {
		entries = append(entries, entry{TaskWatchdog, a.watchdg, budget})
	}
	for _, e := range entries {
		if err := a.sup.Register(e.name, e.task, e.limit); err != nil {
			return err
		}
	}
	return nil
}

// ErrTaskExhausted is returned by Run when a task the bot cannot work without
// used up its restart budget.
var ErrTaskExhausted = errors.New("app: essential task exhausted its restart budget")

// essential tasks carry the bot: without chat, speech or playback there is
// nothing left to do, so the run ends when one of them is exhausted.
var essential = map[string]bool{TaskTwitch: true, TaskTTS: true, TaskAudio: true}

// Run blocks until ctx ends or an essential task is exhausted. In the second
// case it returns ErrTaskExhausted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer close(a.done)
	defer cancel()

	cfg := a.cfgm.Get()
	a.log.Info("starting",
		logx.String("channel", cfg.Twitch.ChannelName()),
		logx.Bool("anonymous", a.secrets.Anonymous()),
		logx.Int("tasks", len(a.sup.List())),
	)
	if cfg.Systemd.Enabled {
		a.sd.Ready()
	}

	err := a.sup.RunAll(ctx)
	if a.exhausted.Load() {
		return ErrTaskExhausted
	}
	return err
}

// checkExhausted is a monitor hook. The monitor and config tasks never give
// up, so RunAll alone does not end while the bot is dead; this cancels the
// run once an essential task, or every bounded task, is out of budget.
func (a *App) checkExhausted(_ context.Context, stats []supervisor.TaskStats) {
	name, dead := exhaustedTask(stats)
	if dead && a.exhausted.CompareAndSwap(false, true) {
		a.log.Error("bot cannot continue; stopping", logx.String("task", name))
		a.cancelRun()
	}
}

// exhaustedTask names the task that ends the run: the first exhausted
// essential task, or the last bounded one when all of them are exhausted.
func exhaustedTask(stats []supervisor.TaskStats) (string, bool) {
	bounded, last := 0, ""
	allDone := true
	for _, st := range stats {
		if st.MaxRestarts == supervisor.Unlimited {
			continue
		}
		if st.Exhausted && essential[st.Name] {
			return st.Name, true
		}
		bounded++
		if !st.Exhausted {
			allDone = false
		}
		last = st.Name
	}
	return last, bounded > 0 && allDone
}

// cancelRun stops a running Run and reports whether Run was entered.
func (a *App) cancelRun() bool {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// applyLoop pushes committed config changes into the live components.
func (a *App) applyLoop(ctx context.Context) error {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-ch:
			if !ok {
				return errors.New("config subscription closed")
			}
			a.apply(prev, cfg)
			prev = cfg
		}
	}
}

func (a *App) apply(prev, cfg *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, cfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded", attrs...)
	if len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.Any("sections", restart))
	}
	a.logs.Apply(mapLogging(cfg))
	a.ann.Apply(cfg.Announcements)
	a.cmds.Apply(mapCommands(cfg))
	if err := a.control.Reload(); err != nil {
		a.log.Warn("audio control reload failed", logx.Err(err))
	}
}

// Stop shuts the app down step by step. Each step has its own deadline so
// one slow component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.cfgm.Get().Systemd.Enabled {
		a.sd.Stopping()
	}
	started := a.cancelRun()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("tasks", 3*time.Second, func(c context.Context) error {
		if !started {
			return nil
		}
		select {
		case <-a.done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("eventbus", 0, func(context.Context) error { a.bus.Close(); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
}

// Supervisor exposes the task registry (tests, diagnostics).
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }
