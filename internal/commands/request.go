package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"botox/internal/twitch"
	logx "botox/pkg/logx"
)

// ErrDie is returned by the die command. It ends the dispatcher task so the
// supervisor restarts it (or gives up once the budget is spent).
var ErrDie = errors.New("commands: die requested")

// ErrNotOwner is returned when a non-owner calls an owner-only command.
var ErrNotOwner = errors.New("commands: owner only")

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Command is one chat command, addressed by its trigger (the first word
// without the prefix).
type Command struct {
	Trigger     string
	Description string
	OwnerOnly   bool
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	ReqID   string
	Msg     twitch.ChatMessage
	Trigger string
	Args    []string
	ArgText string // everything after the trigger, trimmed
	Owner   bool
	Started time.Time

	Log   logx.Logger
	reply func(text string)
}

// Reply sends text to chat and, when enabled, speaks it with the bot voice.
func (r *Request) Reply(text string) {
	if r.reply != nil && strings.TrimSpace(text) != "" {
		r.reply(text)
	}
}

// parseLine splits "!trigger a b" into trigger and arguments. ok is false
// when line does not start with prefix or has no trigger.
func parseLine(line, prefix string) (trigger string, args []string, argText string, ok bool) {
	line = strings.TrimSpace(line)
	if prefix == "" || !strings.HasPrefix(line, prefix) {
		return "", nil, "", false
	}
	rest := strings.TrimPrefix(line, prefix)
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, "", false
	}
	trigger = strings.ToLower(fields[0])
	args = fields[1:]
	if i := strings.IndexFunc(rest, isSpace); i >= 0 {
		argText = strings.TrimSpace(rest[i:])
	}
	return trigger, args, argText, true
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' }
