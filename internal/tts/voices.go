package tts

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/hegedustibor/htgo-tts/voices"

	"botox/internal/persist"
	logx "botox/pkg/logx"
)

// UsersDocument is the persisted document name of the voice registry.
const UsersDocument = "UsersDB"

// DefaultVoices is the pool new speakers draw from when tts.voices is empty.
var DefaultVoices = []string{
	voices.English,
	voices.EnglishUK,
	voices.Spanish,
	voices.Portuguese,
	voices.French,
	voices.German,
	"it",
}

type User struct {
	Nick  string `yaml:"nick"`
	Voice string `yaml:"voice"`
}

type UsersDB struct {
	Users map[string]User `yaml:"users"`
}

func defaultUsersDB() UsersDB { return UsersDB{Users: map[string]User{}} }

// Registry maps chat users to voices. A speaker seen for the first time gets
// a random voice from the pool, which is persisted right away.
type Registry struct {
	mu   sync.Mutex
	dir  string
	db   UsersDB
	pool []string
	log  logx.Logger
	pick func(n int) int
}

// OpenRegistry loads the registry from dir. A broken document is reported
// through the logger and replaced in memory by an empty one.
func OpenRegistry(dir string, pool []string, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := persist.Load(dir, UsersDocument, defaultUsersDB)
	if err != nil {
		log.Warn("voice registry unreadable; starting empty", logx.Err(err))
	}
	if db.Users == nil {
		db.Users = map[string]User{}
	}
	voices := normalizePool(pool)
	if len(voices) == 0 {
		if len(pool) > 0 {
			log.Warn("voice pool has no usable entries; using the default pool", logx.Any("voices", pool))
		}
		voices = normalizePool(DefaultVoices)
	}
	return &Registry{
		dir:  dir,
		db:   db,
		pool: voices,
		log:  log,
		pick: rand.Intn,
	}
}

func normalizePool(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Voices returns the pool, sorted.
func (r *Registry) Voices() []string {
	out := append([]string(nil), r.pool...)
	slices.Sort(out)
	return out
}

// Known reports whether voice is in the pool.
func (r *Registry) Known(voice string) bool {
	return slices.Contains(r.pool, strings.ToLower(strings.TrimSpace(voice)))
}

// VoiceFor returns the voice of nick, assigning one on first sight.
func (r *Registry) VoiceFor(nick string) string {
	nick = strings.ToLower(strings.TrimSpace(nick))
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.db.Users[nick]; ok && u.Voice != "" {
		return u.Voice
	}
	voice := r.pool[r.pick(len(r.pool))]
	r.db.Users[nick] = User{Nick: nick, Voice: voice}
	r.saveLocked()
	r.log.Debug("voice assigned", logx.String("nick", nick), logx.String("voice", voice))
	return voice
}

// SetVoice changes the voice of nick. Unknown voices are rejected.
func (r *Registry) SetVoice(nick, voice string) error {
	nick = strings.ToLower(strings.TrimSpace(nick))
	voice = strings.ToLower(strings.TrimSpace(voice))
	if !r.Known(voice) {
		return fmt.Errorf("unknown voice %q", voice)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db.Users[nick] = User{Nick: nick, Voice: voice}
	r.saveLocked()
	return nil
}

func (r *Registry) saveLocked() {
	if err := persist.Save(r.dir, UsersDocument, r.db); err != nil {
		r.log.Warn("voice registry save failed", logx.Err(err))
	}
}
