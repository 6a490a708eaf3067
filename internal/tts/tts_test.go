package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"botox/internal/audio"
	"botox/internal/queue"
	"botox/internal/storage"
	logx "botox/pkg/logx"
)

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "look https://example.com/x now", want: "look , URL removed, now"},
		{in: "visit www.twitch.tv", want: "visit , URL removed,"},
		{in: "see example.org/path?q=1", want: "see , URL removed,"},
		{in: "salt & pepper 100%", want: "salt and pepper 100 percent"},
		{in: "   ", want: ""},
		{in: "abcdef", max: 3, want: "abc"},
		{in: "àèìòù", max: 2, want: "àè"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in, tt.max); got != tt.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunkText(t *testing.T) {
	t.Parallel()
	got := chunkText("aa bb cc", 5)
	if strings.Join(got, "|") != "aa bb|cc" {
		t.Fatalf("chunkText = %q", got)
	}
	got = chunkText("abcdefgh", 4)
	if strings.Join(got, "|") != "abcd|efgh" {
		t.Fatalf("chunkText long word = %q", got)
	}
}

func TestRegistryAssignsAndPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := OpenRegistry(dir, []string{"en", "fr"}, logx.Nop())
	r.pick = func(int) int { return 1 }

	if got := r.VoiceFor("Alice"); got != "fr" {
		t.Fatalf("VoiceFor = %q, want fr", got)
	}
	r.pick = func(int) int { return 0 }
	if got := r.VoiceFor("alice"); got != "fr" {
		t.Fatalf("voice must be sticky, got %q", got)
	}
	if err := r.SetVoice("bob", "klingon"); err == nil {
		t.Fatal("unknown voice accepted")
	}
	if err := r.SetVoice("bob", "EN"); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}

	again := OpenRegistry(dir, []string{"en", "fr"}, logx.Nop())
	if again.VoiceFor("alice") != "fr" || again.VoiceFor("bob") != "en" {
		t.Fatal("registry not persisted")
	}
	if strings.Join(again.Voices(), ",") != "en,fr" {
		t.Fatalf("Voices = %v", again.Voices())
	}
}

func TestRegistryBlankPoolFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	for _, pool := range [][]string{nil, {" "}, {"", "  "}} {
		r := OpenRegistry(t.TempDir(), pool, logx.Nop())
		if len(r.Voices()) == 0 {
			t.Fatalf("pool %q: no voices", pool)
		}
		if v := r.VoiceFor("alice"); !r.Known(v) {
			t.Fatalf("pool %q: VoiceFor = %q, not in pool", pool, v)
		}
	}
}

func TestGoogleSynthesize(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("client") != "tw-ob" || r.Header.Get("User-Agent") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, q.Get("tl")+":"+q.Get("idx")+"/"+q.Get("total"))
		mu.Unlock()
		_, _ = w.Write([]byte("[" + q.Get("q") + "]"))
	}))
	defer srv.Close()

	g := NewGoogle(srv.URL, time.Second)
	long := strings.Repeat("word ", 50) // 250 runes -> two chunks
	b, err := g.Synthesize(context.Background(), long, "fr")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if strings.Count(string(b), "[") != 2 {
		t.Fatalf("expected two chunks, got %q", b)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, ",") != "fr:0/2,fr:1/2" {
		t.Fatalf("requests = %v", seen)
	}
}

func TestGoogleStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	if _, err := NewGoogle(srv.URL, time.Second).Synthesize(context.Background(), "hi", "en"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("Synthesize = %v, want status error", err)
	}
}

type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (f *fakeSynth) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, voice+":"+text)
	f.mu.Unlock()
	if text == f.fail {
		return nil, errors.New("boom")
	}
	return []byte(voice + ":" + text), nil
}

func popClip(t *testing.T, q *queue.Queue[audio.Clip]) audio.Clip {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	return c
}

func TestWorkerPipeline(t *testing.T) {
	t.Parallel()
	in := queue.New[Utterance]()
	out := queue.New[audio.Clip]()
	reg := OpenRegistry(t.TempDir(), []string{"de"}, logx.Nop())
	synth := &fakeSynth{fail: "explode"}
	w := NewWorker(in, out, synth, reg, WorkerOptions{MaxChars: 300, BotVoice: "it", DedupWindow: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Say("alice", "hello & bye")
	w.Say("alice", "hello & bye") // duplicate
	w.Say("alice", "https://spam.example/x")
	w.Say("bob", "explode")
	w.Say(BotSpeaker, "Goodbye cruel world")
	in.Push(Utterance{Speaker: "carol", Text: "override", Voice: "ja"})

	want := []string{"de:hello and bye", "de:, URL removed,", "it:Goodbye cruel world", "ja:override"}
	for _, wnt := range want {
		if got := string(popClip(t, out).Data); got != wnt {
			t.Fatalf("clip = %q, want %q", got, wnt)
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected extra clips: %d", out.Len())
	}
}

func TestWorkerPrunesExpiredWindows(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	w := NewWorker(queue.New[Utterance](), queue.New[audio.Clip](), &fakeSynth{}, nil,
		WorkerOptions{DedupWindow: 20 * time.Millisecond}, WithDedup(st))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if w.duplicate(ctx, "alice", "same again") {
		t.Fatal("first line flagged as duplicate")
	}
	if !w.duplicate(ctx, "Alice", "same   AGAIN") {
		t.Fatal("repeat within the window not flagged")
	}

	go w.pruneLoop(ctx, 10*time.Millisecond)
	key := storage.KeyFor("alice", "same again")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := st.SpokenUntil(ctx, key); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired window never pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w.duplicate(ctx, "alice", "same again") {
		t.Fatal("line still flagged after its window expired")
	}
}

func TestMemDedupPrune(t *testing.T) {
	t.Parallel()
	d := newMemDedup()
	ctx := context.Background()
	now := time.Now()
	_ = d.MarkSpoken(ctx, storage.KeyFor("a", "x"), now.Add(-time.Second))
	_ = d.MarkSpoken(ctx, storage.KeyFor("a", "y"), now.Add(time.Minute))
	if n, _ := d.PruneSpoken(ctx, now); n != 1 {
		t.Fatalf("PruneSpoken = %d, want 1", n)
	}
	if _, ok, _ := d.SpokenUntil(ctx, storage.KeyFor("a", "y")); !ok {
		t.Fatal("live window dropped")
	}
}
