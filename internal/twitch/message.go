package twitch

import (
	"strings"
	"sync"
	"time"
)

// ChatMessage is one chat line (or whisper) delivered on the broadcast channel.
type ChatMessage struct {
	ID          string
	Channel     string // without '#'
	Sender      string // login, lowercase
	DisplayName string
	Text        string
	At          time.Time
	Whisper     bool
}

// Name returns the display name when set, else the login.
func (m ChatMessage) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Sender
}

// Identity is the bot's current nick and channel. The server can rename the
// bot (001) and the JOIN confirms the channel, so both are mutable.
type Identity struct {
	mu      sync.RWMutex
	nick    string
	channel string
}

func NewIdentity(nick, channel string) *Identity {
	id := &Identity{}
	id.SetNick(nick)
	id.SetChannel(channel)
	return id
}

func (i *Identity) Nick() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.nick
}

func (i *Identity) Channel() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.channel
}

func (i *Identity) SetNick(nick string) {
	i.mu.Lock()
	i.nick = strings.ToLower(strings.TrimSpace(nick))
	i.mu.Unlock()
}

func (i *Identity) SetChannel(channel string) {
	i.mu.Lock()
	i.channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
	i.mu.Unlock()
}
