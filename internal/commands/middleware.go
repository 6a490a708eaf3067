package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"botox/internal/storage"
	logx "botox/pkg/logx"
)

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("sender", req.Msg.Sender),
				logx.Int("args", len(req.Args)),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil && err != ErrDie {
				req.Log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				req.Log.Info("command ok", fields...)
			}
			return err
		}
	}
}

// Auditor is the slice of storage.Store the audit middleware needs.
type Auditor interface {
	RecordCommand(ctx context.Context, r storage.CommandRecord) error
}

// MWAudit records every invocation. Audit failures are logged and never
// change the command result.
func MWAudit(a Auditor) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if a == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			e := storage.CommandRecord{
				At:      start,
				ReqID:   req.ReqID,
				Channel: req.Msg.Channel,
				Sender:  req.Msg.Sender,
				Command: req.Trigger,
				Args:    req.ArgText,
				Outcome: Outcome(err),
				TookMS:  time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := a.RecordCommand(actx, e); aerr != nil {
				req.Log.Warn("audit append failed", logx.Err(aerr))
			}
			return err
		}
	}
}

// ErrCooldown is returned when a sender calls commands faster than allowed.
var ErrCooldown = fmt.Errorf("commands: cooldown")

// Cooldowns keeps one limiter per sender. Owners are never limited.
type Cooldowns struct {
	mu    sync.Mutex
	every time.Duration
	users map[string]*rate.Limiter
}

func NewCooldowns(every time.Duration) *Cooldowns {
	return &Cooldowns{every: every, users: map[string]*rate.Limiter{}}
}

// Set changes the cooldown. Existing limiters are dropped.
func (c *Cooldowns) Set(every time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if every != c.every {
		c.every = every
		c.users = map[string]*rate.Limiter{}
	}
}

func (c *Cooldowns) Allow(user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.every <= 0 {
		return true
	}
	user = strings.ToLower(user)
	l, ok := c.users[user]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.every), 1)
		c.users[user] = l
	}
	return l.Allow()
}

func MWCooldown(c *Cooldowns) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if c != nil && !req.Owner && !c.Allow(req.Msg.Sender) {
				return ErrCooldown
			}
			return next(ctx, req)
		}
	}
}
