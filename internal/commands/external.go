package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"botox/internal/audio"
	"botox/internal/persist"
	logx "botox/pkg/logx"
)

// ExternalDocument is the persisted document name of the user-defined commands.
const ExternalDocument = "ExternalBotCommands"

// ExternalCommand is a command defined in the config dir instead of code.
//
// ReplayText may use {SENDER} and {ARG}. With NeedArg set, a call without an
// argument gets a usage hint instead.
type ExternalCommand struct {
	ActivationPattern string `yaml:"activation_pattern"`
	NeedArg           bool   `yaml:"need_arg"`
	CustomAudioURL    string `yaml:"custom_audio_url"`
	ReplayText        string `yaml:"replay_text"`
}

type ExternalCommands struct {
	Commands map[string]ExternalCommand `yaml:"commands"`
}

func DefaultExternalCommands() ExternalCommands {
	return ExternalCommands{Commands: map[string]ExternalCommand{
		"test": {
			ActivationPattern: "test",
			ReplayText:        "Hi there {SENDER} this is the reply to your test command",
		},
		"meow": {
			ActivationPattern: "meow",
			CustomAudioURL:    "https://www.myinstants.com/media/sounds/m-e-o-w.mp3",
		},
		"for_president": {
			ActivationPattern: "for_president",
			NeedArg:           true,
			ReplayText:        "{ARG} for President!",
		},
	}}
}

// LoadExternalCommands reads the document from dir. A broken document is
// logged and the defaults are used for this run.
func LoadExternalCommands(dir string, log logx.Logger) ExternalCommands {
	doc, err := persist.Load(dir, ExternalDocument, DefaultExternalCommands)
	if err != nil {
		log.Warn("external commands unreadable; using defaults", logx.Err(err))
	}
	return doc
}

// ClipFetcher downloads custom audio for external commands.
type ClipFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ClipSink receives fetched audio.
type ClipSink interface {
	Enqueue(c audio.Clip)
}

// Build turns the document into commands, sorted by trigger. Entries with an
// empty activation pattern are skipped.
func (e ExternalCommands) Build(prefix string, fetch ClipFetcher, sink ClipSink, log logx.Logger) []Command {
	keys := make([]string, 0, len(e.Commands))
	for k := range e.Commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Command, 0, len(keys))
	for _, k := range keys {
		ec := e.Commands[k]
		trigger := strings.ToLower(strings.TrimSpace(ec.ActivationPattern))
		if trigger == "" {
			log.Error("external command has no activation pattern; skipped", logx.String("key", k))
			continue
		}
		out = append(out, Command{
			Trigger:     trigger,
			Description: "custom command",
			Handle:      ec.handler(trigger, prefix, fetch, sink),
		})
	}
	return out
}

func (ec ExternalCommand) handler(trigger, prefix string, fetch ClipFetcher, sink ClipSink) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		var reply string
		switch {
		case ec.NeedArg && req.ArgText == "":
			reply = fmt.Sprintf("Hey @%s, you need to provide an argument for %s%s command", req.Msg.Sender, prefix, trigger)
		default:
			reply = strings.NewReplacer("{SENDER}", req.Msg.Sender, "{ARG}", req.ArgText).Replace(ec.ReplayText)
		}

		if ec.CustomAudioURL != "" && fetch != nil && sink != nil {
			data, err := fetch.Fetch(ctx, ec.CustomAudioURL)
			if err != nil {
				return fmt.Errorf("fetch audio for %s: %w", trigger, err)
			}
			sink.Enqueue(audio.Clip{Data: data, Source: "cmd:" + trigger})
		}
		req.Reply(reply)
		return nil
	}
}
