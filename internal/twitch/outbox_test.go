package twitch

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSplitLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{name: "empty", text: "   ", max: 10, want: nil},
		{name: "fits", text: "hello  world", max: 20, want: []string{"hello world"}},
		{name: "wraps on words", text: "aaa bbb ccc", max: 7, want: []string{"aaa bbb", "ccc"}},
		{name: "exact fit", text: "ab cd", max: 5, want: []string{"ab cd"}},
		{name: "long word is cut", text: "x abcdefghij y", max: 4, want: []string{"x", "abcd", "efgh", "ij y"}},
		{name: "rune boundary", text: "ééé", max: 3, want: []string{"é", "é", "é"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitLines(tt.text, tt.max)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Fatalf("SplitLines(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
			for _, l := range got {
				if len(l) > tt.max {
					t.Fatalf("line %q longer than %d", l, tt.max)
				}
			}
		})
	}
}

func drain(t *testing.T, o *Outbox) []string {
	t.Helper()
	var out []string
	for o.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		l, err := o.Next(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, l)
	}
	return out
}

func TestOutboxFormats(t *testing.T) {
	t.Parallel()
	id := NewIdentity("bot", "#SomeChannel")
	o := NewOutbox(id, 10)

	o.Privmsg("one two three")
	o.Whisper("@Alice", "psst")
	o.Raw("JOIN #x\r\n")

	got := drain(t, o)
	want := []string{
		"PRIVMSG #somechannel :one two",
		"PRIVMSG #somechannel :three",
		"WHISPER alice :psst",
		"JOIN #x",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("outbox lines:\n%q\nwant\n%q", got, want)
	}
}

func TestOutboxWithoutChannelDropsPrivmsg(t *testing.T) {
	t.Parallel()
	o := NewOutbox(NewIdentity("bot", ""), 400)
	o.Privmsg("hello")
	if o.Len() != 0 {
		t.Fatalf("Len = %d, want 0", o.Len())
	}
}
