// Package persist stores small per-type documents (voice registry, external
// commands, audio control) as YAML files in the bot config directory.
package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Path returns the file that backs document name in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

// Load reads document name from dir.
//
//   - Missing file: def() is returned and written to disk.
//   - Unreadable or invalid file: def() is returned, nothing is written, and
//     the error is reported so the caller can log it.
func Load[T any](dir, name string, def func() T) (T, error) {
	path := Path(dir, name)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		v := def()
		if err := Save(dir, name, v); err != nil {
			return v, err
		}
		return v, nil
	}
	if err != nil {
		return def(), fmt.Errorf("read %s: %w", path, err)
	}

	var v T
	if len(strings.TrimSpace(string(b))) == 0 {
		return def(), fmt.Errorf("parse %s: empty document", path)
	}
	if err := yaml.Unmarshal(b, &v); err != nil {
		return def(), fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// Save writes v atomically (temp file in the same directory, then rename).
func Save[T any](dir, name string, v T) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := Path(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
