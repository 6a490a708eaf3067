package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "botox/pkg/logx"
)

const (
	settleDelay     = 250 * time.Millisecond // quiet period after the last file event
	validateTimeout = 5 * time.Second
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Validator checks a parsed config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the committed bot config. Watch re-reads the file on
// change and hands every accepted version to subscribers.
type ConfigManager struct {
	path     string
	log      logx.Logger
	validate Validator
	settle   time.Duration

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:     path,
		log:      logx.Nop(),
		validate: validateConfig,
		settle:   settleDelay,
	}
}

func validateConfig(_ context.Context, cfg *Config) error { return cfg.Validate() }

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator replaces the check run before every commit. Nil restores
// Config.Validate.
func (m *ConfigManager) SetValidator(fn Validator) {
	if fn == nil {
		fn = validateConfig
	}
	m.validate = fn
}

// Parse reads the file without validating or committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decodeConfig(m.path, b)
}

// Load parses, validates and commits the file. A missing or empty file
// commits Default().
func (m *ConfigManager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrEmptyFile) {
		m.log.Warn("no config found; running with defaults", logx.String("path", m.path), logx.Err(err))
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if err := m.validate(ctx, cfg); err != nil {
		return nil, fmt.Errorf("validate %s: %w", m.path, err)
	}
	m.Commit(cfg)
	return cfg, nil
}

// Reload re-reads the file and publishes it when it differs from the
// committed config and passes validation. It reports whether a new config
// was published. An empty file is skipped without error; the editor is
// still writing it.
func (m *ConfigManager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	switch {
	case errors.Is(err, ErrEmptyFile):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("parse %s: %w", m.path, err)
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		return false, nil
	}

	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := m.validate(vctx, cfg); err != nil {
		return false, fmt.Errorf("validate %s: %w", m.path, err)
	}
	m.Commit(cfg)
	m.publish(cfg)
	return true, nil
}

// Commit makes cfg the current config without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Subscribe returns a channel that receives every published config. A slow
// subscriber only ever misses intermediate versions, never the latest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish holds subsMu while sending so Unsubscribe cannot close a channel
// under it.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update dropped; subscriber full", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// offerLatest sends cfg, evicting the oldest pending config if ch is full.
func offerLatest(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// Watch reloads the config whenever its file changes, until ctx ends. A
// broken watcher is recreated with jittered backoff, so the task never
// exits on its own.
func (m *ConfigManager) Watch(ctx context.Context) error {
	wait := watchBackoffMin
	for {
		started, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			wait = watchBackoffMin
		}
		pause := wait + time.Duration(rand.Int63n(int64(wait/2+1)))
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", pause))
		wait = min(wait*2, watchBackoffMax)

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// watchOnce watches the config directory until the watcher fails or ctx
// ends. Events for the file are coalesced: the reload runs once the file has
// been quiet for m.settle.
func (m *ConfigManager) watchOnce(ctx context.Context) (started bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("path", m.path))

	settle := time.NewTimer(m.settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event stream closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				settle.Reset(m.settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config events overflowed; reloading", logx.Err(err))
				settle.Reset(m.settle)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-settle.C:
			m.reloadAndLog(ctx)
		}
	}
}

func (m *ConfigManager) reloadAndLog(ctx context.Context) {
	published, err := m.Reload(ctx)
	switch {
	case err != nil:
		m.log.Warn("config reload rejected; keeping the running config", logx.Err(err))
	case published:
		m.log.Debug("config published", logx.String("path", m.path))
	default:
		m.log.Debug("config unchanged", logx.String("path", m.path))
	}
}
