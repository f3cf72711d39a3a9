// Package twitchchat maintains the IRC-over-WebSocket connection to a
// Twitch channel, normalizes inbound frames into core.ChatMessage values
// and, when elevated credentials are present, polls Helix for viewer
// counts and hype-train status.
package twitchchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/streamlink/internal/core"
)

const defaultURL = "wss://irc-ws.chat.twitch.tv:443"

// anonymousPass is the placeholder the chat relay accepts for read-only
// sessions without credentials.
const anonymousPass = "SCHRODINGER"

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	maxAttempts    = 10
)

// ErrAttemptsExhausted is returned once the reconnect budget is spent.
// The supervisor treats it as terminal until settings change.
var ErrAttemptsExhausted = errors.New("twitchchat: reconnect attempts exhausted")

type Config struct {
	Channel string
	// ClientID and AccessToken are optional. Both present enables the
	// Helix polls; absent, the client joins anonymously.
	ClientID    string
	AccessToken string
	// URL overrides the chat relay endpoint. Tests point it at a local
	// server.
	URL string
	// HelixURL overrides the REST endpoint for the auxiliary polls.
	HelixURL string
}

// Callbacks deliver everything the client produces. Nil members are
// skipped. Callbacks run on the client's goroutines; receivers are
// expected to hand off quickly.
type Callbacks struct {
	OnMessage         func(core.ChatMessage)
	OnStatusChange    func(status core.Status, errMsg string)
	OnStatsUpdate     func(patch core.StatsPatch)
	OnHypeTrainUpdate func(train *core.HypeTrainData)
}

type Client struct {
	cfg   Config
	cb    Callbacks
	drops *dropLogger
	helix *helixPoller
	now   func() time.Time
	// sleep is swapped out by tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, cb Callbacks) *Client {
	cfg.Channel = NormalizeChannel(cfg.Channel)
	cfg.AccessToken = NormalizeToken(cfg.AccessToken)
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	return &Client{
		cfg:   cfg,
		cb:    cb,
		drops: newDropLogger(time.Now(), readDropDebugEnv(), 0),
		now:   time.Now,
		sleep: sleepContext,
	}
}

func (c *Client) elevated() bool {
	return c.cfg.ClientID != "" && c.cfg.AccessToken != ""
}

// Run connects and reads until ctx is cancelled. Transport failures
// reconnect with doubling backoff; spending the attempt budget returns
// ErrAttemptsExhausted after reporting a terminal error status.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.Channel == "" {
		c.status(core.StatusError, "no channel configured")
		return errors.New("twitchchat: channel is required")
	}

	// Auxiliary pollers must not outlive this client: a terminal error
	// below cancels them along with everything else.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.elevated() {
		poller := newHelixPoller(c.cfg, c.cb)
		c.helix = poller
		go poller.run(ctx)
	}

	backoff := initialBackoff
	attempts := 0
	opened := func() {
		backoff = initialBackoff
		attempts = 0
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.status(core.StatusConnecting, "")

		err := c.runOnce(ctx, opened)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Clean server-side close. Reconnect from scratch.
			continue
		}

		attempts++
		if attempts > maxAttempts {
			c.status(core.StatusError, "connection lost, retries exhausted")
			return ErrAttemptsExhausted
		}
		slog.Warn("twitchchat: disconnected", "err", err, "retry_in", backoff, "attempt", attempts)
		c.status(core.StatusConnecting, err.Error())
		if serr := c.sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce performs one full session: dial, handshake, read loop. opened
// fires once the handshake completes, successful opens reset the
// reconnect budget. A nil error means a clean server-side close.
func (c *Client) runOnce(ctx context.Context, opened func()) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	send := func(line string) error {
		return conn.Write(ctx, websocket.MessageText, []byte(line))
	}

	pass := anonymousPass
	nick := fmt.Sprintf("justinfan%d", rand.Intn(100000))
	if c.cfg.AccessToken != "" {
		pass = "oauth:" + c.cfg.AccessToken
		nick = c.cfg.Channel
	}
	if err := send("PASS " + pass); err != nil {
		return fmt.Errorf("send PASS: %w", err)
	}
	if err := send("NICK " + nick); err != nil {
		return fmt.Errorf("send NICK: %w", err)
	}
	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
		return fmt.Errorf("send CAP REQ: %w", err)
	}
	if err := send("JOIN #" + c.cfg.Channel); err != nil {
		return fmt.Errorf("send JOIN: %w", err)
	}
	slog.Info("twitchchat: joined", "channel", c.cfg.Channel, "anonymous", c.cfg.AccessToken == "")
	c.status(core.StatusOnline, "")
	if opened != nil {
		opened()
	}

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			st := websocket.CloseStatus(err)
			if st == websocket.StatusNormalClosure || st == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		// One frame can carry several IRC lines.
		for _, raw := range strings.Split(string(payload), "\r\n") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			if strings.HasPrefix(raw, "PING") {
				if err := send("PONG :tmi.twitch.tv"); err != nil {
					return fmt.Errorf("send PONG: %w", err)
				}
				continue
			}
			c.handleLine(raw)
		}
	}
}

func (c *Client) handleLine(raw string) {
	now := c.now()
	line, ok := parseLine(raw)
	if !ok {
		c.drops.note(now, "unparseable", raw)
		return
	}
	switch line.command {
	case "PRIVMSG":
		msg, ok := normalizePrivmsg(line, now)
		if !ok {
			c.drops.note(now, "empty_text", raw)
			return
		}
		c.deliver(msg)
	case "USERNOTICE":
		msg, ok := normalizeUsernotice(line, now)
		if !ok {
			c.drops.note(now, "unknown_notice", raw)
			return
		}
		c.deliver(msg)
	case "RECONNECT":
		// Treated as a transport error by the caller via close; nothing
		// to do per line.
		c.drops.note(now, "server_reconnect", raw)
	default:
		c.drops.note(now, "not_privmsg", raw)
	}
}

func (c *Client) deliver(msg core.ChatMessage) {
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(msg)
	}
}

func (c *Client) status(s core.Status, errMsg string) {
	if c.cb.OnStatusChange != nil {
		c.cb.OnStatusChange(s, errMsg)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
