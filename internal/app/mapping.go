package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"botox/internal/commands"
	"botox/internal/config"
	"botox/internal/observability/debugsrv"
	"botox/internal/storage"
	"botox/internal/tts"
	"botox/internal/twitch"
	logx "botox/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			Target:     l.Chat.Target,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "disabled", "off":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = filepath.Join(cfg.Bot.Dir(), "storage")
		}
		return storage.Config{Driver: "file", Path: path, MaxLogBytes: int64(sc.MaxLogMB) << 20}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: sc.Busy()}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTwitch(cfg *config.Config, s config.Secrets) twitch.Options {
	rps, burst := cfg.Twitch.SendRate()
	nick := cfg.Twitch.Login()
	if s.Anonymous() {
		nick = config.DefaultNick
	}
	return twitch.Options{
		URL:           cfg.Twitch.URL(),
		Nick:          nick,
		Token:         s.OAuthToken,
		Channel:       cfg.Twitch.ChannelName(),
		Caps:          cfg.Twitch.Caps(),
		PingInterval:  cfg.Twitch.PingEvery(),
		RatePerSec:    rps,
		Burst:         burst,
		CommandPrefix: cfg.Bot.CommandPrefix(),
	}
}

func mapWorker(cfg *config.Config) tts.WorkerOptions {
	return tts.WorkerOptions{
		MaxChars:    cfg.TTS.CharLimit(),
		BotVoice:    cfg.TTS.BotVoiceCode(),
		DedupWindow: cfg.TTS.Dedup(),
	}
}

func mapCommands(cfg *config.Config) commands.Options {
	return commands.Options{
		Prefix:       cfg.Bot.CommandPrefix(),
		Owners:       append([]string(nil), cfg.Bot.Owners...),
		Timeout:      cfg.Bot.Timeout(),
		Cooldown:     cfg.Bot.CooldownPerUser(),
		SpeakReplies: cfg.Bot.Speak() && cfg.TTS.On(),
	}
}

func mapDebug(cfg *config.Config, s config.Secrets) (debugsrv.Config, error) {
	d := cfg.Debug
	var (
		out = debugsrv.Config{
			Addr:          d.ListenAddr(),
			Prefix:        d.Prefix,
			Token:         s.DebugToken,
			AllowInsecure: d.AllowInsecure,
		}
		err error
	)
	if out.ReadTimeout, err = config.ParseDuration("debug.read_timeout", d.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDuration("debug.write_timeout", d.WriteTimeout, 0); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDuration("debug.idle_timeout", d.IdleTimeout, 60*time.Second); err != nil {
		return out, err
	}
	return out, nil
}
