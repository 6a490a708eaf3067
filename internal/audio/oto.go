package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"
)

// go-mp3 always decodes to 16-bit little-endian stereo.
const (
	channels     = 2
	bytesPerSamp = 2
	frameBytes   = channels * bytesPerSamp
)

// OtoBackend plays mp3 clips on the default output device. oto allows one
// context per process, so it is created on the first clip and every later
// clip is resampled to that rate.
type OtoBackend struct {
	mu   sync.Mutex
	ctx  *oto.Context
	rate int

	// Rate forces the output sample rate. Zero uses the first clip's rate.
	Rate int
}

func NewOtoBackend(rate int) *OtoBackend { return &OtoBackend{Rate: rate} }

func (b *OtoBackend) context(rate int) (*oto.Context, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return b.ctx, b.rate, nil
	}
	if b.Rate > 0 {
		rate = b.Rate
	}
	c, ready, err := oto.NewContext(rate, channels, bytesPerSamp)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: oto context: %w", err)
	}
	<-ready
	b.ctx, b.rate = c, rate
	return c, rate, nil
}

func (b *OtoBackend) Play(ctx context.Context, data []byte, gain float64) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("audio: mp3 decoder: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("audio: mp3 decode: %w", err)
	}
	otoCtx, outRate, err := b.context(dec.SampleRate())
	if err != nil {
		return err
	}
	if dec.SampleRate() != outRate {
		pcm = Resample(pcm, dec.SampleRate(), outRate)
	}

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.SetVolume(gain)
	player.Play()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}

// Resample converts 16-bit stereo PCM between sample rates by linear
// interpolation.
func Resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	inFrames := len(pcm) / frameBytes
	if inFrames == 0 {
		return nil
	}
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]byte, outFrames*frameBytes)
	step := float64(from) / float64(to)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		k := j + 1
		if k >= inFrames {
			k = inFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := sample(pcm, j, ch)
			c := sample(pcm, k, ch)
			v := int16(float64(a) + (float64(c)-float64(a))*frac)
			off := i*frameBytes + ch*bytesPerSamp
			out[off] = byte(v)
			out[off+1] = byte(uint16(v) >> 8)
		}
	}
	return out
}

func sample(pcm []byte, frame, ch int) int16 {
	off := frame*frameBytes + ch*bytesPerSamp
	return int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
}
