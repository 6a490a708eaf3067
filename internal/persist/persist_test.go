package persist

import (
	"os"
	"testing"
)

type doc struct {
	Volume float64           `yaml:"volume"`
	Users  map[string]string `yaml:"users"`
}

func defDoc() doc { return doc{Volume: -6, Users: map[string]string{}} }

func TestLoadMissingWritesDefault(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	got, err := Load(dir, "AudioControl", defDoc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Volume != -6 {
		t.Fatalf("Volume = %v, want -6", got.Volume)
	}
	if _, err := os.Stat(Path(dir, "AudioControl")); err != nil {
		t.Fatalf("default not written: %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	want := doc{Volume: 1.5, Users: map[string]string{"alice": "fr"}}
	if err := Save(dir, "UsersDB", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir, "UsersDB", defDoc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Volume != 1.5 || got.Users["alice"] != "fr" {
		t.Fatalf("Load = %+v", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

func TestLoadInvalidKeepsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := Path(dir, "UsersDB")
	if err := os.WriteFile(path, []byte("volume: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(dir, "UsersDB", defDoc)
	if err == nil {
		t.Fatal("Load should report the parse error")
	}
	if got.Volume != -6 {
		t.Fatalf("fallback = %+v, want default", got)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "volume: [unclosed" {
		t.Fatal("invalid file must not be overwritten")
	}
}
