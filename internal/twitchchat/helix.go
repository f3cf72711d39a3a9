package twitchchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/you/streamlink/internal/core"
)

const defaultHelixURL = "https://api.twitch.tv/helix"

const (
	viewersInterval = 10 * time.Second
	trainInterval   = 30 * time.Second
	// trainAuthBackoff applies on 403: the token lacks the hype-train
	// scope and hammering the endpoint will not change that.
	trainAuthBackoff = 5 * time.Minute
	trainErrBackoff  = time.Minute
)

// helixPoller runs the auxiliary REST polls that need elevated
// credentials: viewer counts every poll tick and hype-train status via
// the two-step login-to-id lookup.
type helixPoller struct {
	base    string
	channel string
	client  *http.Client
	headers http.Header
	cb      Callbacks

	// done closes once run returns, so callers can observe shutdown.
	done chan struct{}

	broadcasterID string
}

func newHelixPoller(cfg Config, cb Callbacks) *helixPoller {
	base := cfg.HelixURL
	if base == "" {
		base = defaultHelixURL
	}
	h := http.Header{}
	h.Set("Client-Id", cfg.ClientID)
	h.Set("Authorization", "Bearer "+cfg.AccessToken)
	return &helixPoller{
		base:    base,
		channel: cfg.Channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		headers: h,
		cb:      cb,
		done:    make(chan struct{}),
	}
}

func (p *helixPoller) run(ctx context.Context) {
	defer close(p.done)
	go p.pollViewers(ctx)
	p.pollHypeTrain(ctx)
}

func (p *helixPoller) pollViewers(ctx context.Context) {
	ticker := time.NewTicker(viewersInterval)
	defer ticker.Stop()
	for {
		p.fetchViewers(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *helixPoller) fetchViewers(ctx context.Context) {
	var out struct {
		Data []struct {
			ViewerCount int    `json:"viewer_count"`
			Title       string `json:"title"`
			Type        string `json:"type"`
		} `json:"data"`
	}
	if err := p.get(ctx, "/streams?user_login="+url.QueryEscape(p.channel), &out); err != nil {
		slog.Debug("twitchchat: viewer poll failed", "err", err)
		return
	}
	if p.cb.OnStatsUpdate == nil {
		return
	}
	patch := core.StatsPatch{}
	if len(out.Data) > 0 {
		patch.Viewers = &out.Data[0].ViewerCount
		patch.Title = &out.Data[0].Title
	} else {
		zero := 0
		patch.Viewers = &zero
	}
	p.cb.OnStatsUpdate(patch)
}

func (p *helixPoller) pollHypeTrain(ctx context.Context) {
	for {
		next := trainInterval
		train, err := p.fetchHypeTrain(ctx)
		switch {
		case err == nil:
			if p.cb.OnHypeTrainUpdate != nil {
				p.cb.OnHypeTrainUpdate(train)
			}
		case isStatus(err, http.StatusForbidden):
			slog.Warn("twitchchat: hype train poll forbidden, token lacks scope", "retry_in", trainAuthBackoff)
			next = trainAuthBackoff
		default:
			slog.Debug("twitchchat: hype train poll failed", "err", err)
			next = trainErrBackoff
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *helixPoller) fetchHypeTrain(ctx context.Context) (*core.HypeTrainData, error) {
	if p.broadcasterID == "" {
		var users struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := p.get(ctx, "/users?login="+url.QueryEscape(p.channel), &users); err != nil {
			return nil, err
		}
		if len(users.Data) == 0 {
			return nil, fmt.Errorf("helix: no user for login %q", p.channel)
		}
		p.broadcasterID = users.Data[0].ID
	}

	var events struct {
		Data []struct {
			ID        string `json:"id"`
			EventData struct {
				ID        string    `json:"id"`
				Level     int       `json:"level"`
				Goal      int       `json:"goal"`
				Total     int       `json:"total"`
				Progress  int       `json:"progress"`
				ExpiresAt time.Time `json:"expires_at"`
			} `json:"event_data"`
		} `json:"data"`
	}
	if err := p.get(ctx, "/hypetrain/events?broadcaster_id="+url.QueryEscape(p.broadcasterID), &events); err != nil {
		return nil, err
	}
	if len(events.Data) == 0 {
		return nil, nil
	}
	ev := events.Data[0].EventData
	now := time.Now()
	train := &core.HypeTrainData{
		ID:         ev.ID,
		Level:      ev.Level,
		Progress:   ev.Progress,
		Goal:       ev.Goal,
		Total:      ev.Total,
		IsActive:   ev.ExpiresAt.After(now),
		ExpiryDate: ev.ExpiresAt,
	}
	if train.Progress == 0 {
		train.Progress = ev.Total
	}
	if !train.IsActive {
		return nil, nil
	}
	return train, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.code, e.body)
}

func isStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.code == code
}

func (p *helixPoller) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return err
	}
	req.Header = p.headers.Clone()
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	return json.Unmarshal(body, out)
}
