package config

import (
	"reflect"
	"sort"
	"strings"

	logx "botox/pkg/logx"
)

// liveSections are applied without a restart.
var liveSections = map[string]bool{
	"logging":       true,
	"announcements": true,
	"bot":           true,
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging and (3) the changed sections that only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Twitch, newCfg.Twitch) {
		changed = append(changed, "twitch")
		attrs = append(attrs,
			logx.String("twitch.server_url", newCfg.Twitch.URL()),
			logx.String("twitch.nick", newCfg.Twitch.Login()),
			logx.String("twitch.channel", newCfg.Twitch.ChannelName()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.String("bot.prefix", newCfg.Bot.CommandPrefix()),
			logx.Int("bot.owner_count", len(newCfg.Bot.Owners)),
			logx.Duration("bot.cooldown", newCfg.Bot.CooldownPerUser()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Supervisor, newCfg.Supervisor) {
		changed = append(changed, "supervisor")
		attrs = append(attrs, logx.Int("supervisor.max_restarts", newCfg.Supervisor.Budget()))
	}

	if !reflect.DeepEqual(oldCfg.TTS, newCfg.TTS) {
		changed = append(changed, "tts")
		attrs = append(attrs,
			logx.Bool("tts.enabled", newCfg.TTS.On()),
			logx.String("tts.bot_voice", newCfg.TTS.BotVoiceCode()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Audio, newCfg.Audio) {
		changed = append(changed, "audio")
		attrs = append(attrs, logx.Bool("audio.enabled", newCfg.Audio.On()))
	}

	if !reflect.DeepEqual(oldCfg.Announcements, newCfg.Announcements) {
		changed = append(changed, "announcements")
		attrs = append(attrs,
			logx.String("announcements.timezone", strings.TrimSpace(newCfg.Announcements.Timezone)),
			logx.Int("announcements.count", len(newCfg.Announcements.Items)),
		)
	}

	if oldCfg.Helix != newCfg.Helix {
		changed = append(changed, "helix")
		attrs = append(attrs, logx.Bool("helix.enabled", newCfg.Helix.Enabled))
	}

	// Logging (never log the chat target's messages, only whether it is set)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.ListenAddr()),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.enabled", newCfg.Systemd.Enabled))
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, sec := range changed {
		if !liveSections[sec] {
			restart = append(restart, sec)
		}
	}
	return changed, attrs, restart
}
