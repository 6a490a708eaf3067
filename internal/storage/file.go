package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "botox/pkg/logx"
)

const (
	commandLogName   = "commands.jsonl"
	spokenLogName    = "spoken.log"
	defaultMaxLog    = 8 << 20
	spokenSlack      = 256 // stale records tolerated before spoken.log is rewritten
	spokenRecordSize = 32 + 1 + 13 + 1
)

// fileStore keeps the command log and the spoken-line window in a directory.
//
// spoken.log holds one "<key hex> <until unix ms>" record per line. Later
// records win. The file is rewritten with live windows only once stale
// records outnumber them by spokenSlack.
type fileStore struct {
	dir    string
	log    logx.Logger
	maxLog int64

	mu       sync.Mutex
	closed   bool
	cmdFile  *os.File
	cmdSize  int64
	spoken   map[LineKey]int64
	spokenF  *os.File
	spokenN  int // records currently in spoken.log
	rewrites int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s := &fileStore{dir: dir, log: log, maxLog: cfg.MaxLogBytes}
	if s.maxLog <= 0 {
		s.maxLog = defaultMaxLog
	}

	if err := s.openCommandLog(); err != nil {
		return nil, err
	}
	spoken, n, err := readSpokenLog(s.path(spokenLogName), time.Now().UnixMilli())
	if err != nil {
		_ = s.cmdFile.Close()
		return nil, err
	}
	s.spoken, s.spokenN = spoken, n
	// Start every session from a file holding live windows only.
	if err := s.rewriteSpokenLocked(); err != nil {
		_ = s.cmdFile.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("dir", dir), logx.Int("spoken", len(spoken)))
	return s, nil
}

func (s *fileStore) path(name string) string { return filepath.Join(s.dir, name) }

func (s *fileStore) openCommandLog() error {
	f, err := os.OpenFile(s.path(commandLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: %w", err)
	}
	s.cmdFile, s.cmdSize = f, st.Size()
	return nil
}

func (s *fileStore) RecordCommand(_ context.Context, r CommandRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cmdSize > 0 && s.cmdSize+int64(len(line)) > s.maxLog {
		if err := s.rotateCommandLogLocked(); err != nil {
			return err
		}
	}
	n, err := s.cmdFile.Write(line)
	s.cmdSize += int64(n)
	return err
}

// rotateCommandLogLocked keeps one previous generation as commands.jsonl.1.
func (s *fileStore) rotateCommandLogLocked() error {
	if err := s.cmdFile.Close(); err != nil {
		s.log.Debug("command log close failed", logx.Err(err))
	}
	cur := s.path(commandLogName)
	if err := os.Rename(cur, cur+".1"); err != nil {
		return fmt.Errorf("storage: rotate command log: %w", err)
	}
	s.log.Info("command log rotated", logx.String("previous", cur+".1"))
	return s.openCommandLog()
}

func (s *fileStore) MarkSpoken(_ context.Context, key LineKey, until time.Time) error {
	ms := until.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.spoken[key] = ms
	if _, err := fmt.Fprintf(s.spokenF, "%s %d\n", key, ms); err != nil {
		return err
	}
	s.spokenN++
	return s.maybeRewriteLocked()
}

func (s *fileStore) SpokenUntil(_ context.Context, key LineKey) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.spoken[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) PruneSpoken(_ context.Context, now time.Time) (int, error) {
	cut := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	dropped := 0
	for k, until := range s.spoken {
		if until <= cut {
			delete(s.spoken, k)
			dropped++
		}
	}
	if dropped == 0 {
		return 0, nil
	}
	return dropped, s.maybeRewriteLocked()
}

func (s *fileStore) maybeRewriteLocked() error {
	if s.spokenN-len(s.spoken) < spokenSlack {
		return nil
	}
	if err := s.rewriteSpokenLocked(); err != nil {
		// The appended log is still correct, only larger.
		s.log.Warn("spoken log rewrite failed", logx.Err(err))
	}
	return nil
}

// rewriteSpokenLocked replaces spoken.log with the live windows and reopens
// it for appending.
func (s *fileStore) rewriteSpokenLocked() error {
	path := s.path(spokenLogName)
	tmp, err := os.CreateTemp(s.dir, ".spoken.*.tmp")
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, len(s.spoken)*spokenRecordSize+64)
	for k, until := range s.spoken {
		fmt.Fprintf(w, "%s %d\n", k, until)
	}
	if err := errors.Join(w.Flush(), tmp.Sync(), tmp.Close()); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if s.spokenF != nil {
		_ = s.spokenF.Close()
	}
	s.spokenF, s.spokenN = f, len(s.spoken)
	s.rewrites++
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.cmdFile != nil {
		errs = append(errs, s.cmdFile.Close())
	}
	if s.spokenF != nil {
		errs = append(errs, s.spokenF.Close())
	}
	return errors.Join(errs...)
}

// readSpokenLog replays spoken.log, keeping the last window per key and
// skipping windows that ended before nowMS. Malformed lines are skipped.
func readSpokenLog(path string, nowMS int64) (map[LineKey]int64, int, error) {
	out := map[LineKey]int64{}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("storage: %w", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
		keyHex, msText, ok := strings.Cut(sc.Text(), " ")
		if !ok {
			continue
		}
		key, err := ParseLineKey(keyHex)
		if err != nil {
			continue
		}
		until, err := strconv.ParseInt(msText, 10, 64)
		if err != nil {
			continue
		}
		out[key] = until
	}
	for k, until := range out {
		if until <= nowMS {
			delete(out, k)
		}
	}
	return out, n, sc.Err()
}
