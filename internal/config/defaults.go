package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultServerURL       = "wss://irc-ws.chat.twitch.tv:443"
	DefaultNick            = "justinfan69696942"
	DefaultConfigDir       = ".config"
	DefaultPrefix          = "!"
	DefaultBotVoice        = "it"
	DefaultTTSEndpoint     = "https://translate.google.com/translate_tts"
	DefaultDebugAddr       = "127.0.0.1:6060"
	DefaultDebugPrefix     = "/debug/pprof/"
	DefaultMaxRestarts     = 3
	DefaultMaxLineLength   = 400
	DefaultBroadcastCap    = 10
	DefaultSendRatePerSec  = 0.66
	DefaultSendBurst       = 3
	DefaultMaxChars        = 300
	DefaultMaxClipBytes    = 5 << 20
	defaultPingInterval    = 180 * time.Second
	defaultCommandTimeout  = 10 * time.Second
	defaultMonitorInterval = 10 * time.Second
	defaultHTTPTimeout     = 15 * time.Second
	defaultFetchTimeout    = 15 * time.Second
	defaultBusyTimeout     = 5 * time.Second
)

// DefaultCapReq is requested when twitch.cap_req is omitted.
var DefaultCapReq = []string{"twitch.tv/commands", "twitch.tv/membership", "twitch.tv/tags"}

// Default returns a config that runs an anonymous, read-only bot with console logging.
func Default() *Config {
	return &Config{Logging: LoggingConfig{Level: "info", Console: true}}
}

// ---- resolved accessors (defaults applied) ----

func (t TwitchConfig) URL() string { return orString(t.ServerURL, DefaultServerURL) }

// Login returns the configured nick, lowercased.
func (t TwitchConfig) Login() string { return strings.ToLower(orString(t.Nick, DefaultNick)) }

// ChannelName returns the channel without '#', lowercased.
func (t TwitchConfig) ChannelName() string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t.Channel), "#"))
}

func (t TwitchConfig) Caps() []string {
	if t.CapReq == nil {
		return append([]string(nil), DefaultCapReq...)
	}
	return t.CapReq
}

func (t TwitchConfig) PingEvery() time.Duration {
	return mustDuration(t.PingInterval, defaultPingInterval)
}

func (t TwitchConfig) SendRate() (perSec float64, burst int) {
	perSec, burst = t.SendRatePerSec, t.SendBurst
	if perSec <= 0 {
		perSec = DefaultSendRatePerSec
	}
	if burst <= 0 {
		burst = DefaultSendBurst
	}
	return perSec, burst
}

func (t TwitchConfig) LineLimit() int { return orInt(t.MaxLineLength, DefaultMaxLineLength) }

func (t TwitchConfig) BroadcastCap() int { return orInt(t.BroadcastCapacity, DefaultBroadcastCap) }

func (b BotConfig) Dir() string { return orString(b.ConfigDir, DefaultConfigDir) }

func (b BotConfig) CommandPrefix() string {
	if b.Prefix == "" {
		return DefaultPrefix
	}
	return b.Prefix
}

func (b BotConfig) Timeout() time.Duration {
	return mustDuration(b.CommandTimeout, defaultCommandTimeout)
}

func (b BotConfig) CooldownPerUser() time.Duration { return mustDuration(b.Cooldown, 0) }

func (b BotConfig) Speak() bool { return orBool(b.SpeakReplies, true) }

func (s SupervisorConfig) Budget() int {
	if s.MaxRestarts == nil {
		return DefaultMaxRestarts
	}
	return *s.MaxRestarts
}

func (s SupervisorConfig) Interval() time.Duration {
	return mustDuration(s.MonitorInterval, defaultMonitorInterval)
}

func (s SupervisorConfig) Delay() time.Duration { return mustDuration(s.RestartDelay, 0) }

func (t TTSConfig) On() bool { return orBool(t.Enabled, true) }

func (t TTSConfig) URL() string { return orString(t.Endpoint, DefaultTTSEndpoint) }

func (t TTSConfig) BotVoiceCode() string { return orString(t.BotVoice, DefaultBotVoice) }

func (t TTSConfig) Timeout() time.Duration { return mustDuration(t.HTTPTimeout, defaultHTTPTimeout) }

func (t TTSConfig) CharLimit() int { return orInt(t.MaxChars, DefaultMaxChars) }

func (t TTSConfig) Dedup() time.Duration { return mustDuration(t.DedupWindow, 0) }

func (a AudioConfig) On() bool { return orBool(a.Enabled, true) }

func (a AudioConfig) Timeout() time.Duration {
	return mustDuration(a.FetchTimeout, defaultFetchTimeout)
}

func (a AudioConfig) ClipLimit() int64 {
	if a.MaxClipBytes <= 0 {
		return DefaultMaxClipBytes
	}
	return a.MaxClipBytes
}

func (d DebugConfig) ListenAddr() string { return orString(d.Addr, DefaultDebugAddr) }

func (d DebugConfig) MetricsOn() bool { return orBool(d.Metrics, true) }

func (s *StorageConfig) Busy() time.Duration {
	if s == nil {
		return defaultBusyTimeout
	}
	return mustDuration(s.BusyTimeout, defaultBusyTimeout)
}

// ---- validation ----

// Validate checks everything Parse cannot: durations, ranges, cron specs,
// time zones. It reports every problem at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path string, raw Duration) {
		_, err := ParseDuration(path, raw, 0)
		add(err)
	}

	if c.Twitch.ServerURL != "" {
		u, err := url.Parse(c.Twitch.ServerURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add(fmt.Errorf("twitch.server_url: want ws:// or wss:// URL, got %q", c.Twitch.ServerURL))
		}
	}
	dur("twitch.ping_interval", c.Twitch.PingInterval)
	if c.Twitch.SendRatePerSec < 0 || c.Twitch.SendBurst < 0 {
		add(errors.New("twitch: send_rate_per_sec and send_burst must be >= 0"))
	}
	if c.Twitch.MaxLineLength < 0 || c.Twitch.BroadcastCapacity < 0 {
		add(errors.New("twitch: max_line_length and broadcast_capacity must be >= 0"))
	}

	if strings.ContainsAny(c.Bot.Prefix, " \t") {
		add(fmt.Errorf("bot.prefix: must not contain whitespace, got %q", c.Bot.Prefix))
	}
	dur("bot.command_timeout", c.Bot.CommandTimeout)
	dur("bot.cooldown", c.Bot.Cooldown)

	if c.Supervisor.MaxRestarts != nil && *c.Supervisor.MaxRestarts < -1 {
		add(fmt.Errorf("supervisor.max_restarts: must be -1 (unlimited) or >= 0, got %d", *c.Supervisor.MaxRestarts))
	}
	dur("supervisor.monitor_interval", c.Supervisor.MonitorInterval)
	dur("supervisor.restart_delay", c.Supervisor.RestartDelay)

	dur("tts.http_timeout", c.TTS.HTTPTimeout)
	dur("tts.dedup_window", c.TTS.DedupWindow)
	for i, v := range c.TTS.Voices {
		if strings.TrimSpace(v) == "" {
			add(fmt.Errorf("tts.voices[%d]: must not be blank", i))
		}
	}
	if c.TTS.MaxChars < 0 {
		add(errors.New("tts.max_chars: must be >= 0"))
	}

	dur("audio.fetch_timeout", c.Audio.FetchTimeout)
	if c.Audio.MaxClipBytes < 0 {
		add(errors.New("audio.max_clip_bytes: must be >= 0"))
	}

	add(validateAnnouncements(c.Announcements))

	if c.Logging.Chat.Enabled && strings.TrimSpace(c.Logging.Chat.Target) == "" {
		add(errors.New("logging.chat.target: required when logging.chat.enabled"))
	}

	dur("debug.read_timeout", c.Debug.ReadTimeout)
	dur("debug.write_timeout", c.Debug.WriteTimeout)
	dur("debug.idle_timeout", c.Debug.IdleTimeout)
	if c.Debug.Prefix != "" && !strings.HasPrefix(c.Debug.Prefix, "/") {
		add(fmt.Errorf("debug.prefix: must start with '/', got %q", c.Debug.Prefix))
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "disabled", "off", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		dur("storage.busy_timeout", c.Storage.BusyTimeout)
		if c.Storage.MaxLogMB < 0 {
			add(fmt.Errorf("storage.max_log_mb: must be >= 0, got %d", c.Storage.MaxLogMB))
		}
	}

	return errors.Join(errs...)
}

var announceParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func validateAnnouncements(a AnnouncementsConfig) error {
	var errs []error
	if tz := strings.TrimSpace(a.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("announcements.timezone: %w", err))
		}
	}
	seen := map[string]struct{}{}
	for i, it := range a.Items {
		path := fmt.Sprintf("announcements.items[%d]", i)
		name := strings.TrimSpace(it.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(it.Text) == "" {
			errs = append(errs, fmt.Errorf("%s.text: required", path))
		}
		if _, err := announceParser.Parse(strings.TrimSpace(it.Spec)); err != nil {
			errs = append(errs, fmt.Errorf("%s.spec %q: %w", path, it.Spec, err))
		}
	}
	return errors.Join(errs...)
}

func mustDuration(raw Duration, def time.Duration) time.Duration {
	d, err := ParseDuration("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func orString(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
