package audio

import (
	"fmt"
	"math"
	"sync"

	"botox/internal/persist"
	logx "botox/pkg/logx"
)

// ControlDocument is the persisted document name of the playback settings.
const ControlDocument = "AudioControl"

// AudioControl is the persisted playback settings document.
type AudioControl struct {
	// Volume is a gain in dB; 0 is unchanged, -6 is about half amplitude.
	Volume float64 `yaml:"volume"`
	// LinuxSink names a PulseAudio sink. Kept for compatibility; playback
	// always uses the default output device.
	LinuxSink string `yaml:"linux_sink,omitempty"`
}

func DefaultControl() AudioControl { return AudioControl{Volume: -6.0} }

// Control guards the live AudioControl and persists changes.
type Control struct {
	mu  sync.RWMutex
	dir string
	doc AudioControl
	log logx.Logger
}

func LoadControl(dir string, log logx.Logger) *Control {
	if log.IsZero() {
		log = logx.Nop()
	}
	doc, err := persist.Load(dir, ControlDocument, DefaultControl)
	if err != nil {
		log.Warn("audio control unreadable; using defaults", logx.Err(err))
	}
	if doc.LinuxSink != "" {
		log.Warn("linux_sink is not supported; playing on the default output", logx.String("sink", doc.LinuxSink))
	}
	return &Control{dir: dir, doc: doc, log: log}
}

func (c *Control) Volume() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Volume
}

// SetVolume changes and persists the volume in dB.
func (c *Control) SetVolume(db float64) error {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return fmt.Errorf("audio: invalid volume %v", db)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.doc
	next.Volume = db
	if err := persist.Save(c.dir, ControlDocument, next); err != nil {
		return err
	}
	c.doc = next
	return nil
}

// Gain converts the volume to a linear factor clamped to [0, 1].
func (c *Control) Gain() float64 { return GainFromDB(c.Volume()) }

func GainFromDB(db float64) float64 {
	g := math.Pow(10, db/20)
	switch {
	case math.IsNaN(g) || g < 0:
		return 0
	case g > 1:
		return 1
	}
	return g
}

// Reload re-reads the document from disk. On error the current settings stay.
func (c *Control) Reload() error {
	doc, err := persist.Load(c.dir, ControlDocument, DefaultControl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	changed := doc.Volume != c.doc.Volume
	c.doc = doc
	c.mu.Unlock()
	if changed {
		c.log.Info("audio volume changed", logx.Float64("volume_db", doc.Volume))
	}
	return nil
}
