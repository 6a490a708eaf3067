package twitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"botox/internal/eventbus"
	logx "botox/pkg/logx"
)

var (
	// ErrReconnect is returned when the server asks the bot to reconnect.
	ErrReconnect = errors.New("twitch: server requested reconnect")
	// ErrAuth is returned when the server rejects the login.
	ErrAuth = errors.New("twitch: login authentication failed")
)

// Options is the static part of the client setup.
type Options struct {
	URL          string
	Nick         string
	Token        string // without "oauth:"; empty logs in anonymously
	Channel      string
	Caps         []string
	PingInterval time.Duration

	RatePerSec float64
	Burst      int

	// CommandPrefix marks lines that are commands and must not be spoken.
	CommandPrefix string
}

// SpeechSink receives chat lines that should be read aloud.
type SpeechSink func(speaker, text string)

// Client is the chat connection task. Every Run is one session: it dials,
// logs in, and serves until the connection drops, the server asks for a
// reconnect, or ctx ends.
type Client struct {
	opts  Options
	log   logx.Logger
	id    *Identity
	out   *Outbox
	bus   *eventbus.Broadcast[ChatMessage]
	speak SpeechSink

	dialer  *websocket.Dialer
	limiter *rate.Limiter

	onLine func(dir, line string)
}

type ClientOption func(*Client)

func WithLogger(log logx.Logger) ClientOption { return func(c *Client) { c.log = log } }

// WithDialer overrides the websocket dialer (tests, proxies).
func WithDialer(d *websocket.Dialer) ClientOption { return func(c *Client) { c.dialer = d } }

// WithSpeechSink sets where non-command chat lines go.
func WithSpeechSink(s SpeechSink) ClientOption { return func(c *Client) { c.speak = s } }

// WithLineHook observes every raw line ("in" or "out"). Used for metrics.
func WithLineHook(fn func(dir, line string)) ClientOption {
	return func(c *Client) { c.onLine = fn }
}

func NewClient(opts Options, id *Identity, out *Outbox, bus *eventbus.Broadcast[ChatMessage], options ...ClientOption) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 180 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 0.66
	}
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	c := &Client{
		opts:    opts,
		id:      id,
		out:     out,
		bus:     bus,
		dialer:  websocket.DefaultDialer,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
	}
	for _, o := range options {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

// session serializes writes on one connection.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
	hook func(dir, line string)
}

func (s *session) writeLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n")); err != nil {
		return fmt.Errorf("twitch: write: %w", err)
	}
	if s.hook != nil {
		s.hook("out", line)
	}
	return nil
}

// Run serves one connection.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("twitch: dial %s: %w", c.opts.URL, err)
	}
	s := &session{conn: conn, hook: c.onLine}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = conn.Close()
		wg.Wait()
	}()

	c.log.Info("connected", logx.String("url", c.opts.URL))
	if err := c.login(s); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- c.readLoop(s)
	}()
	go func() {
		defer wg.Done()
		errCh <- c.writeLoop(runCtx, s)
	}()

	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			s.mu.Unlock()
			return ctx.Err()
		case err := <-errCh:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		case <-ping.C:
			c.log.Debug("sending PING")
			if err := s.writeLine("PING :tmi.twitch.tv"); err != nil {
				return err
			}
		}
	}
}

func (c *Client) login(s *session) error {
	lines := make([]string, 0, 4+len(c.opts.Caps))
	if c.opts.Token != "" {
		lines = append(lines, "PASS oauth:"+c.opts.Token)
	}
	lines = append(lines, "NICK "+strings.ToLower(c.opts.Nick))
	for _, capName := range c.opts.Caps {
		lines = append(lines, "CAP REQ :"+capName)
	}
	if ch := c.id.Channel(); ch != "" {
		lines = append(lines, "JOIN #"+ch)
	}
	for _, l := range lines {
		if err := s.writeLine(l); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(s *session) error {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("twitch: read: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		// One frame may carry several lines.
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if c.onLine != nil {
				c.onLine("in", line)
			}
			if err := c.handleLine(s, line); err != nil {
				return err
			}
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, s *session) error {
	for {
		line, err := c.out.Next(ctx)
		if err != nil {
			return err
		}
		if isChatLine(line) {
			if err := c.limiter.Wait(ctx); err != nil {
				c.out.Requeue(line)
				return err
			}
		}
		if err := s.writeLine(line); err != nil {
			c.out.Requeue(line)
			c.log.Debug("write failed; line kept for the next session", logx.Err(err))
			return err
		}
		c.log.Trace("sent", logx.String("line", line))
	}
}

func (c *Client) handleLine(s *session, raw string) error {
	l := parseIRC(raw)
	switch l.Command {
	case "PING":
		c.log.Debug("replying to server PING")
		return s.writeLine("PONG :" + l.Text)
	case "PONG":
		c.log.Debug("received PONG")
	case "001":
		if len(l.Params) > 0 {
			c.id.SetNick(l.Params[0])
			c.log.Info("bot nick confirmed", logx.String("nick", c.id.Nick()))
		}
	case "JOIN":
		if len(l.Params) > 0 && strings.EqualFold(l.Nick, c.id.Nick()) {
			c.id.SetChannel(l.Params[0])
			c.log.Info("joined channel", logx.String("channel", c.id.Channel()))
		}
	case "RECONNECT":
		return ErrReconnect
	case "NOTICE":
		c.log.Warn("server notice", logx.String("text", l.Text))
		if strings.Contains(strings.ToLower(l.Text), "authentication failed") ||
			strings.Contains(strings.ToLower(l.Text), "improperly formatted auth") {
			return ErrAuth
		}
	case "PRIVMSG":
		pm, ok := twitchirc.ParseMessage(raw).(*twitchirc.PrivateMessage)
		if !ok {
			return nil
		}
		msg := ChatMessage{
			ID:          pm.ID,
			Channel:     strings.TrimPrefix(pm.Channel, "#"),
			Sender:      strings.ToLower(pm.User.Name),
			DisplayName: pm.User.DisplayName,
			Text:        pm.Message,
			At:          pm.Time,
		}
		if msg.Sender == "" {
			msg.Sender = strings.ToLower(l.Nick)
		}
		if msg.At.IsZero() {
			msg.At = time.Now()
		}
		return c.deliver(msg, true)
	case "WHISPER":
		wm, ok := twitchirc.ParseMessage(raw).(*twitchirc.WhisperMessage)
		if !ok {
			return nil
		}
		msg := ChatMessage{
			ID:          wm.MessageID,
			Sender:      strings.ToLower(wm.User.Name),
			DisplayName: wm.User.DisplayName,
			Text:        wm.Message,
			At:          time.Now(),
			Whisper:     true,
		}
		if msg.Sender == "" {
			msg.Sender = strings.ToLower(l.Nick)
		}
		return c.deliver(msg, false)
	}
	return nil
}

func (c *Client) deliver(msg ChatMessage, speakable bool) error {
	if err := c.bus.Send(msg); err != nil {
		return fmt.Errorf("twitch: broadcast: %w", err)
	}
	isCommand := c.opts.CommandPrefix != "" && strings.HasPrefix(msg.Text, c.opts.CommandPrefix)
	if speakable && c.speak != nil && !isCommand {
		c.speak(msg.Sender, msg.Text)
	}
	return nil
}
