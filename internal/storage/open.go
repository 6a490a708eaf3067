package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "botox/pkg/logx"
)

// Store keeps the command log and the spoken-line window.
type Store interface {
	// RecordCommand appends one command invocation to the log.
	RecordCommand(ctx context.Context, r CommandRecord) error
	// MarkSpoken remembers that the line behind key was spoken and must not
	// be repeated before until.
	MarkSpoken(ctx context.Context, key LineKey, until time.Time) error
	// SpokenUntil reports the window end stored for key.
	SpokenUntil(ctx context.Context, key LineKey) (until time.Time, ok bool, err error)
	// PruneSpoken drops every window that ended at or before now and
	// returns how many were dropped.
	PruneSpoken(ctx context.Context, now time.Time) (int, error)
	Close() error
}

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":   openFile,
	"sqlite": openSQLite,
}

// Drivers lists the driver names Open accepts.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open starts the named driver. An empty driver means no storage and yields
// (nil, nil); callers then fall back to in-memory state.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknownDriver, cfg.Driver, strings.Join(Drivers(), ", "))
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage: %s driver needs a path", name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log.With(logx.String("driver", name)))
	if err != nil {
		return nil, err
	}
	// Windows that ended while the bot was down are useless.
	if n, err := st.PruneSpoken(context.Background(), time.Now()); err != nil {
		log.Warn("startup prune failed", logx.Err(err))
	} else if n > 0 {
		log.Debug("expired spoken lines dropped", logx.Int("count", n))
	}
	return st, nil
}
