package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Synthesizer turns text into mp3 bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

const chunkRunes = 200

// Google calls the translate_tts endpoint. Long texts are sent in chunks and
// the mp3 frames are concatenated.
type Google struct {
	endpoint string
	client   *http.Client
}

func NewGoogle(endpoint string, timeout time.Duration) *Google {
	return &Google{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (g *Google) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	chunks := chunkText(text, chunkRunes)
	var buf bytes.Buffer
	for i, c := range chunks {
		b, err := g.fetchChunk(ctx, c, voice, i, len(chunks))
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

func (g *Google) fetchChunk(ctx context.Context, text, voice string, idx, total int) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", voice)
	params.Set("total", strconv.Itoa(total))
	params.Set("idx", strconv.Itoa(idx))
	params.Set("textlen", strconv.Itoa(len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// chunkText splits on word boundaries into pieces of at most n runes.
func chunkText(text string, n int) []string {
	var (
		out []string
		cur []rune
	)
	for _, w := range strings.Fields(text) {
		wr := []rune(w)
		for len(wr) > n {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			out = append(out, string(wr[:n]))
			wr = wr[n:]
		}
		if len(wr) == 0 {
			continue
		}
		if len(cur) > 0 && len(cur)+1+len(wr) > n {
			out = append(out, string(cur))
			cur = nil
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, wr...)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
