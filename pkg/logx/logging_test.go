package logx

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRedactString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{in: "PASS oauth:abc123", want: "PASS oauth:***"},
		{in: "PASS OAUTH:Secret\r\nNICK bot", want: "PASS oauth:***\r\nNICK bot"},
		{in: `{"line":"PASS oauth:xyz"}`, want: `{"line":"PASS oauth:***"}`},
		{in: "NICK justinfan1", want: "NICK justinfan1"},
	}
	for _, tt := range tests {
		if got := RedactString(tt.in); got != tt.want {
			t.Fatalf("RedactString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactWriterReportsFullLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := Redact(&buf)
	p := []byte("sent PASS oauth:averylongtoken\n")
	n, err := w.Write(p)
	if err != nil || n != len(p) {
		t.Fatalf("Write = %d, %v; want %d, nil", n, err, len(p))
	}
	if strings.Contains(buf.String(), "averylongtoken") {
		t.Fatalf("token leaked: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := formatChatLine([]byte(`{"level":"error","time":"x","message":"task exhausted","task":"TTS","stack":"a\nb","caller":"x.go:1"}` + "\n"))
	want := "[ERROR] task exhausted task=TTS"
	if line != want {
		t.Fatalf("formatChatLine = %q, want %q", line, want)
	}
	if got := formatChatLine([]byte("not json PASS oauth:tok\n")); got != "not json PASS oauth:***" {
		t.Fatalf("raw line = %q", got)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("nothing happens", String("k", "v"))
	l.With(Int("n", 1)).Error("still nothing")
}

type recordingWhisperer struct {
	mu    sync.Mutex
	to    []string
	lines []string
}

func (r *recordingWhisperer) Whisper(to, text string) {
	r.mu.Lock()
	r.to = append(r.to, to)
	r.lines = append(r.lines, text)
	r.mu.Unlock()
}

func (r *recordingWhisperer) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.to...), append([]string(nil), r.lines...)
}

func TestChatSinkWhispersAboveMinLevel(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, Target: "Owner", MinLevel: "warn", RatePerSec: 100},
	})
	defer svc.Close()
	rec := &recordingWhisperer{}
	svc.SetWhisperer(rec)

	log.Info("ignored")
	log.Error("disk on fire", String("line", "PASS oauth:secret"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if to, _ := rec.snapshot(); len(to) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	to, lines := rec.snapshot()
	if len(lines) != 1 {
		t.Fatalf("whispers = %v, want exactly one", lines)
	}
	if to[0] != "owner" {
		t.Fatalf("target = %q, want lowercased login", to[0])
	}
	if !strings.HasPrefix(lines[0], "[ERROR] disk on fire") || strings.Contains(lines[0], "secret") {
		t.Fatalf("unexpected whisper %q", lines[0])
	}
}
