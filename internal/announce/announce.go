// Package announce posts scheduled lines to chat.
package announce

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"botox/internal/config"
	"botox/internal/tts"
	logx "botox/pkg/logx"
)

type Chat interface {
	Privmsg(text string)
}

type Speaker interface {
	Say(speaker, text string)
}

// Announcer is the announcement task. Each item fires on its cron spec; a
// config reload rebuilds the schedule without restarting the task.
type Announcer struct {
	chat   Chat
	speech Speaker
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	cfg    config.AnnouncementsConfig
	reload chan struct{}

	onFire func(name string)
}

type Option func(*Announcer)

func WithLogger(log logx.Logger) Option { return func(a *Announcer) { a.log = log } }

// WithFireHook is called after every announcement.
func WithFireHook(fn func(name string)) Option { return func(a *Announcer) { a.onFire = fn } }

// New builds an announcer. speech may be nil.
func New(cfg config.AnnouncementsConfig, chat Chat, speech Speaker, opts ...Option) *Announcer {
	a := &Announcer{
		chat:   chat,
		speech: speech,
		cfg:    cfg,
		reload: make(chan struct{}, 1),
		// Both 5-field and 6-field specs, plus descriptors like "@every 30m".
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	return a
}

// Apply swaps the schedule. A running task picks it up right away.
func (a *Announcer) Apply(cfg config.AnnouncementsConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	select {
	case a.reload <- struct{}{}:
	default:
	}
}

func (a *Announcer) current() config.AnnouncementsConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Run schedules the announcements until ctx ends.
func (a *Announcer) Run(ctx context.Context) error {
	for {
		c := a.build(a.current())
		c.Start()
		select {
		case <-ctx.Done():
			<-c.Stop().Done()
			return ctx.Err()
		case <-a.reload:
			<-c.Stop().Done()
			a.log.Info("announcements reloaded")
		}
	}
}

func (a *Announcer) build(cfg config.AnnouncementsConfig) *cron.Cron {
	c := cron.New(cron.WithParser(a.parser), cron.WithLocation(a.location(cfg.Timezone)))
	for _, item := range cfg.Items {
		item := item
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		if _, err := c.AddFunc(item.Spec, func() { a.fire(item) }); err != nil {
			a.log.Warn("announcement skipped", logx.String("name", item.Name), logx.String("spec", item.Spec), logx.Err(err))
			continue
		}
		a.log.Debug("announcement scheduled", logx.String("name", item.Name), logx.String("spec", item.Spec))
	}
	return c
}

func (a *Announcer) location(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		a.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (a *Announcer) fire(item config.Announcement) {
	a.log.Info("announcement", logx.String("name", item.Name))
	if a.chat != nil {
		a.chat.Privmsg(item.Text)
	}
	if item.Speak && a.speech != nil {
		a.speech.Say(tts.BotSpeaker, item.Text)
	}
	if a.onFire != nil {
		a.onFire(item.Name)
	}
}
