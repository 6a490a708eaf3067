package twitch

import (
	"context"
	"strings"

	"botox/internal/queue"
)

// Outbox is the queue of raw IRC lines waiting to be written by the client.
// Producers never block; the client drains it while connected, so lines
// queued during a reconnect are sent once the new session is up.
type Outbox struct {
	q       *queue.Queue[string]
	id      *Identity
	maxLine int
}

func NewOutbox(id *Identity, maxLine int) *Outbox {
	if maxLine <= 0 {
		maxLine = 400
	}
	return &Outbox{q: queue.New[string](), id: id, maxLine: maxLine}
}

// Raw queues one protocol line as-is.
func (o *Outbox) Raw(line string) {
	o.q.Push(strings.TrimRight(line, "\r\n"))
}

// Privmsg queues text for the current channel, split into lines that fit the
// chat limit. The lines of one call stay contiguous.
func (o *Outbox) Privmsg(text string) {
	ch := o.id.Channel()
	if ch == "" {
		return
	}
	o.push("PRIVMSG #"+ch+" :", SplitLines(text, o.maxLine))
}

// Whisper queues a private message to a user.
func (o *Outbox) Whisper(to, text string) {
	to = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(to), "@"))
	if to == "" {
		return
	}
	o.push("WHISPER "+to+" :", SplitLines(text, o.maxLine))
}

func (o *Outbox) push(head string, lines []string) {
	if len(lines) == 0 {
		return
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = head + l
	}
	o.q.PushAll(out)
}

// Next blocks until a line is queued or ctx ends.
func (o *Outbox) Next(ctx context.Context) (string, error) { return o.q.Pop(ctx) }

// Requeue puts back a line that Next returned but the client failed to write.
// It goes out first on the next session.
func (o *Outbox) Requeue(line string) { o.q.PushFront(line) }

func (o *Outbox) Len() int { return o.q.Len() }

// SplitLines packs the words of text into lines of at most max bytes. A word
// longer than max is cut at rune boundaries.
func SplitLines(text string, max int) []string {
	if max <= 0 {
		max = 400
	}
	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
		}
	}
	for _, word := range strings.Fields(text) {
		for len(word) > max {
			flush()
			cut := runeCut(word, max)
			lines = append(lines, word[:cut])
			word = word[cut:]
		}
		if word == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > max {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	flush()
	return lines
}

// runeCut returns the largest index <= max that falls on a rune boundary.
func runeCut(s string, max int) int {
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
