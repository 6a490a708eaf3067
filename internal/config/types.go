package config

// Config is the main config file. Durations are Go duration strings
// ("500ms", "10s", "3m") or plain seconds; empty means "use the default".
//
// Secrets (oauth token, helix credentials, debug token) are never read from
// this file; see Secrets.
type Config struct {
	Twitch        TwitchConfig        `json:"twitch"`
	Bot           BotConfig           `json:"bot"`
	Supervisor    SupervisorConfig    `json:"supervisor"`
	TTS           TTSConfig           `json:"tts"`
	Audio         AudioConfig         `json:"audio"`
	Announcements AnnouncementsConfig `json:"announcements"`
	Helix         HelixConfig         `json:"helix"`
	Logging       LoggingConfig       `json:"logging"`
	Debug         DebugConfig         `json:"debug"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Systemd       SystemdConfig       `json:"systemd"`
}

type TwitchConfig struct {
	ServerURL string   `json:"server_url,omitempty"`
	Nick      string   `json:"nick,omitempty"`
	Channel   string   `json:"channel"`
	CapReq    []string `json:"cap_req,omitempty"`

	PingInterval Duration `json:"ping_interval,omitempty"`

	// Outgoing chat rate. Protocol lines (PONG, JOIN, ...) are not limited.
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`

	MaxLineLength     int `json:"max_line_length,omitempty"`
	BroadcastCapacity int `json:"broadcast_capacity,omitempty"`
}

type BotConfig struct {
	// ConfigDir holds the persisted documents (users, external commands, audio control).
	ConfigDir string   `json:"config_dir,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`
	Owners    []string `json:"owners,omitempty"`

	CommandTimeout Duration `json:"command_timeout,omitempty"`
	// Cooldown is per user. "0s" disables it.
	Cooldown     Duration `json:"cooldown,omitempty"`
	SpeakReplies *bool    `json:"speak_replies,omitempty"`
}

// SupervisorConfig sets the restart budget of the bot's tasks. The monitor
// and the config watcher always restart without limit.
type SupervisorConfig struct {
	MaxRestarts     *int     `json:"max_restarts,omitempty"`
	MonitorInterval Duration `json:"monitor_interval,omitempty"`
	RestartDelay    Duration `json:"restart_delay,omitempty"`
}

type TTSConfig struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	Endpoint    string   `json:"endpoint,omitempty"`
	BotVoice    string   `json:"bot_voice,omitempty"`
	Voices      []string `json:"voices,omitempty"`
	HTTPTimeout Duration `json:"http_timeout,omitempty"`
	MaxChars    int      `json:"max_chars,omitempty"`
	// DedupWindow skips identical speaker+text pairs seen within the window.
	DedupWindow Duration `json:"dedup_window,omitempty"`
}

type AudioConfig struct {
	Enabled      *bool    `json:"enabled,omitempty"`
	FetchTimeout Duration `json:"fetch_timeout,omitempty"`
	MaxClipBytes int64    `json:"max_clip_bytes,omitempty"`
}

// AnnouncementsConfig drives the announcer. Specs accept an optional
// seconds field and descriptors such as "@every 30m" or "@hourly".
type AnnouncementsConfig struct {
	Timezone string         `json:"timezone,omitempty"`
	Items    []Announcement `json:"items,omitempty"`
}

type Announcement struct {
	Name  string `json:"name"`
	Spec  string `json:"spec"`
	Text  string `json:"text"`
	Speak bool   `json:"speak,omitempty"`
}

// HelixConfig enables the Twitch API client. Credentials come from the
// environment (TWITCH_CLIENT_ID, TWITCH_HELIX_TOKEN).
type HelixConfig struct {
	Enabled bool `json:"enabled"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat whispers log events at or above MinLevel to Target.
type LoggingChat struct {
	Enabled    bool    `json:"enabled"`
	Target     string  `json:"target"`
	MinLevel   string  `json:"min_level"`
	RatePerSec float64 `json:"rate_per_sec"`
}

// DebugConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set BOTOX_DEBUG_TOKEN or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works.
	ReadTimeout  Duration `json:"read_timeout,omitempty"`
	WriteTimeout Duration `json:"write_timeout,omitempty"`
	IdleTimeout  Duration `json:"idle_timeout,omitempty"`

	Metrics *bool `json:"metrics,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	storage: { driver: file, path: ./botox_store }
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite
	MaxLogMB    int      `json:"max_log_mb,omitempty"`   // file; command log rotation size
}

type SystemdConfig struct {
	Enabled bool `json:"enabled"`
}
