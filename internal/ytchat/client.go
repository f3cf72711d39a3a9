// Package ytchat polls the YouTube live chat attached to a video and
// normalizes items into core.ChatMessage values. Every API call costs
// quota units, reported through OnQuotaUpdate; a 403 stops all polling
// until the client is rebuilt.
package ytchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"github.com/you/streamlink/internal/core"
)

const defaultAuthorColor = "#FF0000"

const (
	// minPollInterval floors the server-suggested cadence to bound
	// quota burn.
	minPollInterval = 2 * time.Second
	errRetryDelay   = 10 * time.Second
	statsInterval   = 60 * time.Second
	// unitsPerCall is the Data API cost of videos.list and
	// liveChatMessages.list alike.
	unitsPerCall = 1
)

// ErrQuotaExceeded reports a 403 from the Data API. Terminal for this
// client instance; the supervisor keeps the error status until the
// operator reconnects.
var ErrQuotaExceeded = errors.New("ytchat: api quota exceeded")

// ErrNoActiveChat means the video exists but has no live chat attached.
var ErrNoActiveChat = errors.New("ytchat: no active live chat")

type Config struct {
	APIKey string
	// VideoID accepts any of the forms ExtractVideoID understands.
	VideoID string
	// Endpoint overrides the API base URL for tests.
	Endpoint string
}

type Callbacks struct {
	OnMessage      func(core.ChatMessage)
	OnStatusChange func(status core.Status, errMsg string)
	OnStatsUpdate  func(patch core.StatsPatch)
	OnQuotaUpdate  func(units int)
}

type Client struct {
	cfg     Config
	videoID string
	cb      Callbacks
	gate    pauseGate
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, cb Callbacks) *Client {
	return &Client{
		cfg:     cfg,
		videoID: ExtractVideoID(cfg.VideoID),
		cb:      cb,
		sleep:   sleepContext,
	}
}

// Pause suspends polling, mirroring a hidden dashboard. No API calls
// are made while paused.
func (c *Client) Pause() { c.gate.pause() }

// Resume re-enables polling immediately.
func (c *Client) Resume() { c.gate.resume() }

// Run resolves the live chat id and polls until ctx is cancelled or a
// terminal condition is hit.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.APIKey == "" || c.videoID == "" {
		c.status(core.StatusError, "Missing API key or video ID")
		return errors.New("ytchat: api key and video id are required")
	}
	c.status(core.StatusConnecting, "")

	opts := []option.ClientOption{option.WithAPIKey(c.cfg.APIKey)}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		c.status(core.StatusError, err.Error())
		return fmt.Errorf("ytchat: build service: %w", err)
	}

	chatID, title, err := c.resolveChat(ctx, svc)
	if err != nil {
		c.status(core.StatusError, userMessage(err))
		return err
	}
	c.status(core.StatusOnline, "")
	if c.cb.OnStatsUpdate != nil && title != "" {
		c.cb.OnStatsUpdate(core.StatsPatch{Title: &title})
	}

	go c.pollStats(ctx, svc)
	return c.pollMessages(ctx, svc, chatID)
}

// resolveChat looks up the video's active live chat session. One call,
// one quota unit.
func (c *Client) resolveChat(ctx context.Context, svc *youtube.Service) (chatID, title string, err error) {
	resp, err := svc.Videos.List([]string{"liveStreamingDetails", "snippet"}).Id(c.videoID).Context(ctx).Do()
	c.addQuota(unitsPerCall)
	if err != nil {
		return "", "", classify(err)
	}
	if len(resp.Items) == 0 {
		return "", "", fmt.Errorf("ytchat: video %q not found", c.videoID)
	}
	item := resp.Items[0]
	if item.Snippet != nil {
		title = item.Snippet.Title
	}
	if item.LiveStreamingDetails == nil || item.LiveStreamingDetails.ActiveLiveChatId == "" {
		return "", "", ErrNoActiveChat
	}
	return item.LiveStreamingDetails.ActiveLiveChatId, title, nil
}

func (c *Client) pollMessages(ctx context.Context, svc *youtube.Service, chatID string) error {
	pageToken := ""
	for {
		if err := c.gate.wait(ctx); err != nil {
			return err
		}

		call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		c.addQuota(unitsPerCall)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = classify(err)
			if errors.Is(err, ErrQuotaExceeded) {
				c.status(core.StatusError, "API quota exceeded")
				return err
			}
			slog.Warn("ytchat: poll failed", "err", err, "retry_in", errRetryDelay)
			c.status(core.StatusError, userMessage(err))
			if serr := c.sleep(ctx, errRetryDelay); serr != nil {
				return serr
			}
			continue
		}

		pageToken = resp.NextPageToken
		for _, item := range resp.Items {
			if msg, ok := normalizeItem(item); ok {
				if c.cb.OnMessage != nil {
					c.cb.OnMessage(msg)
				}
			}
		}
		c.status(core.StatusOnline, "")

		interval := time.Duration(resp.PollingIntervalMillis) * time.Millisecond
		if interval < minPollInterval {
			interval = minPollInterval
		}
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// pollStats fetches concurrent viewers on a coarser cadence than the
// message poll.
func (c *Client) pollStats(ctx context.Context, svc *youtube.Service) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.gate.wait(ctx); err != nil {
			return
		}

		resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(c.videoID).Context(ctx).Do()
		c.addQuota(unitsPerCall)
		if err != nil {
			slog.Debug("ytchat: stats poll failed", "err", err)
			continue
		}
		if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails == nil {
			continue
		}
		viewers := int(resp.Items[0].LiveStreamingDetails.ConcurrentViewers)
		if c.cb.OnStatsUpdate != nil {
			c.cb.OnStatsUpdate(core.StatsPatch{Viewers: &viewers})
		}
	}
}

// normalizeItem maps one API item. Plain chat with empty display text is
// dropped; super chats and super stickers become donation events.
func normalizeItem(item *youtube.LiveChatMessage) (core.ChatMessage, bool) {
	if item == nil || item.Snippet == nil || item.AuthorDetails == nil {
		return core.ChatMessage{}, false
	}
	msg := core.ChatMessage{
		ID:          item.Id,
		Author:      item.AuthorDetails.DisplayName,
		Text:        item.Snippet.DisplayMessage,
		Platform:    core.PlatformYouTube,
		Timestamp:   time.Now().UTC(),
		AvatarURL:   item.AuthorDetails.ProfileImageUrl,
		AuthorColor: defaultAuthorColor,
	}
	if ts, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
		msg.Timestamp = ts.UTC()
	}

	switch {
	case item.Snippet.SuperChatDetails != nil:
		d := item.Snippet.SuperChatDetails
		msg.EventType = core.EventDonation
		msg.DonationAmount = d.AmountDisplayString
		if d.UserComment != "" {
			msg.Text = d.UserComment
		}
		if msg.Text == "" {
			msg.Text = msg.Author + " sent " + d.AmountDisplayString
		}
	case item.Snippet.SuperStickerDetails != nil:
		d := item.Snippet.SuperStickerDetails
		msg.EventType = core.EventDonation
		msg.DonationAmount = d.AmountDisplayString
		if msg.Text == "" {
			msg.Text = msg.Author + " sent a Super Sticker"
		}
	default:
		if msg.Text == "" {
			return core.ChatMessage{}, false
		}
	}
	return msg, true
}

func (c *Client) addQuota(units int) {
	if c.cb.OnQuotaUpdate != nil {
		c.cb.OnQuotaUpdate(units)
	}
}

func (c *Client) status(s core.Status, errMsg string) {
	if c.cb.OnStatusChange != nil {
		c.cb.OnStatusChange(s, errMsg)
	}
}

// classify maps API errors onto the package's sentinel errors.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 403 {
		return ErrQuotaExceeded
	}
	return err
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "API quota exceeded"
	case errors.Is(err, ErrNoActiveChat):
		return "No active live chat found"
	default:
		return err.Error()
	}
}

// pauseGate blocks the poll loops while the dashboard is hidden.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
	g.mu.Unlock()
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
	g.mu.Unlock()
}

// wait blocks until the gate is open or ctx ends.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
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
