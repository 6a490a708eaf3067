package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ErrEmptyFile is returned by Parse for a file holding only whitespace or
// comments. Editors produce one briefly while saving.
var ErrEmptyFile = errors.New("config: file is empty")

// decodeConfig reads a YAML or JSON config, chosen by extension. YAML goes
// through the same strict JSON decoder so both formats reject unknown keys.
func decodeConfig(path string, data []byte) (*Config, error) {
	var lines map[string]int
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var err error
		if data, lines, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, ErrEmptyFile
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, withKeyLine(err, lines)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

var unknownField = regexp.MustCompile(`unknown field "([^"]+)"`)

// withKeyLine points an unknown-key error at the YAML line that holds it.
func withKeyLine(err error, lines map[string]int) error {
	m := unknownField.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	if line, ok := lines[m[1]]; ok {
		return fmt.Errorf("line %d: %w", line, err)
	}
	return err
}

// yamlToJSON returns the document as JSON plus the first line each key
// appears on.
func yamlToJSON(data []byte) ([]byte, map[string]int, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("yaml: %w", err)
	}
	w := yamlWalker{lines: map[string]int{}}
	if doc.Kind == 0 {
		return nil, w.lines, nil
	}
	v, err := w.value(&doc)
	if err != nil {
		return nil, nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		return nil, w.lines, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("yaml: %w", err)
	}
	return out, w.lines, nil
}

type yamlWalker struct {
	lines map[string]int
}

func (w yamlWalker) value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return w.value(n.Content[0])
	case yaml.AliasNode:
		return w.value(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := w.value(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		return w.mapping(n)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano), nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node", n.Line)
}

// mapping keeps explicit keys over "<<" merges, wherever the merge sits.
func (w yamlWalker) mapping(n *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Content)/2)
	explicit := make(map[string]bool, len(n.Content)/2)
	var merges []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Tag == "!!merge" {
			merges = append(merges, v)
			continue
		}
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: key must be a scalar", k.Line)
		}
		if explicit[k.Value] {
			return nil, fmt.Errorf("line %d: duplicate key %q", k.Line, k.Value)
		}
		explicit[k.Value] = true
		if _, seen := w.lines[k.Value]; !seen {
			w.lines[k.Value] = k.Line
		}
		val, err := w.value(v)
		if err != nil {
			return nil, err
		}
		out[k.Value] = val
	}
	for _, m := range merges {
		if err := w.merge(out, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w yamlWalker) merge(into map[string]any, n *yaml.Node) error {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind == yaml.SequenceNode {
		for _, c := range n.Content {
			if err := w.merge(into, c); err != nil {
				return err
			}
		}
		return nil
	}
	src, err := w.value(n)
	if err != nil {
		return err
	}
	m, ok := src.(map[string]any)
	if !ok {
		return fmt.Errorf("line %d: '<<' needs a mapping", n.Line)
	}
	for k, v := range m {
		if _, set := into[k]; !set {
			into[k] = v
		}
	}
	return nil
}

// Duration is a duration field as written in the file. It accepts a Go
// duration string or a number of seconds.
type Duration string

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) {
		*d = Duration(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = Duration(s)
	return nil
}

// ParseDuration reads a duration field. Empty or zero means def. A bare
// number is seconds, so "30" and "30s" agree. Negative values are rejected.
// field only labels the error.
func ParseDuration[S ~string](field string, raw S, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, nerr := strconv.ParseFloat(s, 64)
		if nerr != nil || math.IsNaN(secs) || math.Abs(secs) > maxSeconds {
			return 0, fmt.Errorf("%s: invalid duration %q (want e.g. 30s, 5m or a number of seconds)", field, raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
