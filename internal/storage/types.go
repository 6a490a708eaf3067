package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("storage: closed")
	// ErrUnknownDriver is returned by Open for a driver name it does not know.
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// Config selects a driver. For "file", Path is a directory; for "sqlite" it
// is the database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 keeps the driver default
	MaxLogBytes int64         // file; the command log rotates past this size
}

// Command outcomes as recorded in the command log.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeDenied   = "denied"
	OutcomeCooldown = "cooldown"
	OutcomeDie      = "die"
)

// CommandRecord is one chat command invocation.
type CommandRecord struct {
	At      time.Time `json:"at"`
	ReqID   string    `json:"req_id,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Sender  string    `json:"sender"`
	Command string    `json:"command"`
	Args    string    `json:"args,omitempty"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

// LineKey identifies a spoken chat line by hash, so the text itself is never
// stored.
type LineKey [16]byte

// KeyFor hashes speaker and text. Case and runs of whitespace are ignored,
// so "Hello  World" and "hello world" from the same speaker collide.
func KeyFor(speaker, text string) LineKey {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(speaker))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(text), " "))))
	var k LineKey
	copy(k[:], h.Sum(nil))
	return k
}

func (k LineKey) String() string { return hex.EncodeToString(k[:]) }

// ParseLineKey is the inverse of LineKey.String.
func ParseLineKey(s string) (LineKey, error) {
	var k LineKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, fmt.Errorf("storage: bad line key %q", s)
	}
	copy(k[:], b)
	return k, nil
}
