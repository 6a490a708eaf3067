package commands

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"botox/internal/runtime/supervisor"
)

// VoicePort is what the voice commands need from the voice registry.
type VoicePort interface {
	VoiceFor(nick string) string
	SetVoice(nick, voice string) error
	Voices() []string
}

// PlaybackPort stops the clip that is playing right now.
type PlaybackPort interface {
	Stop() bool
}

// VolumePort reads and persists the playback volume in dB.
type VolumePort interface {
	Volume() float64
	SetVolume(db float64) error
}

// UptimeSource reports when the channel's stream went live.
type UptimeSource interface {
	StreamStart(ctx context.Context, channel string) (startedAt time.Time, live bool, err error)
}

func (d *Dispatcher) builtins() []Command {
	cmds := []Command{
		{
			Trigger:     "help",
			Description: "list commands",
			Handle: func(ctx context.Context, req *Request) error {
				req.Reply(d.helpText())
				return nil
			},
		},
		{
			Trigger:     "test",
			Description: "say hi",
			Handle: func(ctx context.Context, req *Request) error {
				req.Reply(fmt.Sprintf("Hi there %s this is the reply to your test message", req.Msg.Sender))
				return nil
			},
		},
		{
			Trigger:     "die",
			Description: "restart the command task",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				req.Reply("Goodbye cruel world")
				return ErrDie
			},
		},
	}

	if d.deps.Playback != nil {
		cmds = append(cmds, Command{
			Trigger:     "stop",
			Description: "skip the current clip",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				if !d.deps.Playback.Stop() {
					req.Log.Debug("nothing playing")
				}
				return nil
			},
		})
	}

	if vol := d.deps.Volume; vol != nil {
		cmds = append(cmds, Command{
			Trigger:     "volume",
			Description: "show or set the volume in dB",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					req.Reply(fmt.Sprintf("Volume is %.1f dB", vol.Volume()))
					return nil
				}
				db, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(req.Args[0]), "db"), 64)
				if err != nil || math.IsNaN(db) || db > 0 || db < -60 {
					req.Reply("Volume must be between -60 and 0 dB")
					return fmt.Errorf("bad volume %q", req.Args[0])
				}
				if err := vol.SetVolume(db); err != nil {
					return err
				}
				req.Reply(fmt.Sprintf("Volume set to %.1f dB", db))
				return nil
			},
		})
	}

	if v := d.deps.Voices; v != nil {
		cmds = append(cmds,
			Command{
				Trigger:     "voice",
				Description: "show or set your voice",
				Handle: func(ctx context.Context, req *Request) error {
					if len(req.Args) == 0 {
						req.Reply(fmt.Sprintf("@%s your voice is %s", req.Msg.Sender, v.VoiceFor(req.Msg.Sender)))
						return nil
					}
					if err := v.SetVoice(req.Msg.Sender, req.Args[0]); err != nil {
						req.Reply(fmt.Sprintf("@%s unknown voice %q, try %svoices", req.Msg.Sender, req.Args[0], d.prefix()))
						return err
					}
					req.Reply(fmt.Sprintf("@%s your voice is now %s", req.Msg.Sender, strings.ToLower(req.Args[0])))
					return nil
				},
			},
			Command{
				Trigger:     "voices",
				Description: "list voices",
				Handle: func(ctx context.Context, req *Request) error {
					req.Reply("Voices: " + strings.Join(v.Voices(), ", "))
					return nil
				},
			},
		)
	}

	if d.deps.Tasks != nil {
		cmds = append(cmds, Command{
			Trigger:     "tasks",
			Description: "task supervisor stats",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				req.Reply(formatTasks(d.deps.Tasks()))
				return nil
			},
		})
	}

	if d.deps.Uptime != nil {
		cmds = append(cmds, Command{
			Trigger:     "uptime",
			Description: "how long the stream has been live",
			Handle: func(ctx context.Context, req *Request) error {
				started, live, err := d.deps.Uptime.StreamStart(ctx, req.Msg.Channel)
				if err != nil {
					return err
				}
				if !live {
					req.Reply(req.Msg.Channel + " is offline")
					return nil
				}
				req.Reply(fmt.Sprintf("%s has been live for %s", req.Msg.Channel, time.Since(started).Truncate(time.Second)))
				return nil
			},
		})
	}
	return cmds
}

func formatTasks(stats []supervisor.TaskStats) string {
	parts := make([]string, 0, len(stats))
	for _, st := range stats {
		parts = append(parts, st.String())
	}
	return strings.Join(parts, " | ")
}
