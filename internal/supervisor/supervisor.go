// Package supervisor owns the platform clients. It derives the desired
// connection set from the current settings snapshot, tears a client down
// fully before building its replacement, and fans client callbacks into
// the hub, the quota tracker and the sync broadcaster. It also runs the
// auto-dismiss countdown for the featured slot.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you/streamlink/internal/config"
	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/quota"
	"github.com/you/streamlink/internal/state"
	"github.com/you/streamlink/internal/state/data"
	"github.com/you/streamlink/internal/syncbus"
	"github.com/you/streamlink/internal/twitchchat"
	"github.com/you/streamlink/internal/ytchat"
)

// task is one running client: cancel, then wait on done for a complete
// teardown. Two clients for the same platform must never overlap.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

type Supervisor struct {
	hub     *state.Hub
	tracker *quota.Tracker
	bus     *syncbus.Broadcaster
	live    *config.Live

	ctx context.Context

	// mu serializes lifecycle transitions; Apply is reachable from
	// concurrent HTTP handlers.
	mu      sync.Mutex
	twitch  *task
	youtube *task
	ytPause func()
	ytWake  func()
}

func New(ctx context.Context, hub *state.Hub, tracker *quota.Tracker, bus *syncbus.Broadcaster, live *config.Live) *Supervisor {
	s := &Supervisor{hub: hub, tracker: tracker, bus: bus, live: live, ctx: ctx}
	go s.runAutoDismiss(ctx)
	return s
}

// Apply reconciles running clients against the snapshot. Only the
// platform whose settings changed is restarted.
func (s *Supervisor) Apply(next config.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.live.Snapshot()
	s.live.Replace(next)

	if twitchChanged(prev, next) || s.twitch == nil {
		s.twitch.stop()
		s.twitch = nil
		if next.TwitchChannel == "" {
			s.hub.ResetStats(core.PlatformTwitch, core.OfflineStats())
		} else {
			s.hub.UpdateStats(core.PlatformTwitch, statusPatch(core.StatusConnecting, ""))
			s.twitch = s.startTwitch(next)
		}
	}

	if youtubeChanged(prev, next) || s.youtube == nil {
		s.youtube.stop()
		s.youtube = nil
		s.ytPause, s.ytWake = nil, nil
		if next.YouTubeAPIKey == "" || next.YouTubeVideoID == "" {
			s.hub.ResetStats(core.PlatformYouTube, core.OfflineStats())
		} else {
			s.hub.UpdateStats(core.PlatformYouTube, statusPatch(core.StatusConnecting, ""))
			s.youtube = s.startYouTube(next)
		}
	}
}

// Shutdown stops both clients and waits for them.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twitch.stop()
	s.youtube.stop()
	s.twitch, s.youtube = nil, nil
}

// PauseYouTube suspends YouTube polling, the analog of the dashboard
// going hidden. No-op when the client is not running.
func (s *Supervisor) PauseYouTube() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ytPause != nil {
		s.ytPause()
	}
}

func (s *Supervisor) ResumeYouTube() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ytWake != nil {
		s.ytWake()
	}
}

func (s *Supervisor) startTwitch(settings config.Settings) *task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	showSubs := settings.ShowSubscriptions
	client := twitchchat.New(twitchchat.Config{
		Channel:     settings.TwitchChannel,
		ClientID:    settings.TwitchClientID,
		AccessToken: settings.TwitchAccessToken,
	}, twitchchat.Callbacks{
		OnMessage: func(msg core.ChatMessage) {
			if msg.Kind() == core.EventSubscription && !showSubs {
				return
			}
			s.hub.Add(msg)
		},
		OnStatusChange: func(st core.Status, errMsg string) {
			s.hub.UpdateStats(core.PlatformTwitch, statusPatch(st, errMsg))
		},
		OnStatsUpdate: func(patch core.StatsPatch) {
			s.hub.UpdateStats(core.PlatformTwitch, patch)
		},
		OnHypeTrainUpdate: s.onHypeTrain,
	})

	go func() {
		defer close(t.done)
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("supervisor: twitch client stopped", "err", err)
		}
	}()
	return t
}

func (s *Supervisor) startYouTube(settings config.Settings) *task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	client := ytchat.New(ytchat.Config{
		APIKey:  settings.YouTubeAPIKey,
		VideoID: settings.YouTubeVideoID,
	}, ytchat.Callbacks{
		OnMessage: s.hub.Add,
		OnStatusChange: func(st core.Status, errMsg string) {
			s.hub.UpdateStats(core.PlatformYouTube, statusPatch(st, errMsg))
		},
		OnStatsUpdate: func(patch core.StatsPatch) {
			s.hub.UpdateStats(core.PlatformYouTube, patch)
		},
		OnQuotaUpdate: s.onQuota,
	})
	s.ytPause, s.ytWake = client.Pause, client.Resume

	go func() {
		defer close(t.done)
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("supervisor: youtube client stopped", "err", err)
		}
	}()
	return t
}

func (s *Supervisor) onQuota(units int) {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	total, err := s.tracker.Add(ctx, units)
	if err != nil {
		slog.Error("supervisor: record quota", "err", err)
		return
	}
	s.hub.SetQuota(total)
}

func (s *Supervisor) onHypeTrain(train *core.HypeTrainData) {
	if !s.live.Snapshot().ShowHypeTrain {
		return
	}
	s.hub.SetHypeTrain(train)
	if s.bus != nil {
		s.bus.PublishHypeTrain(train)
	}
}

// SimulateHypeTrain injects a test train. It displaces nothing real:
// the store keeps a simulated train only until an active real one
// arrives.
func (s *Supervisor) SimulateHypeTrain(level int, durationSeconds int) core.HypeTrainData {
	if level < 1 {
		level = 1
	}
	if durationSeconds <= 0 {
		durationSeconds = 300
	}
	train := core.HypeTrainData{
		ID:         "test-train",
		Level:      level,
		Progress:   450,
		Goal:       1000,
		Total:      450 + (level-1)*1000,
		IsActive:   true,
		ExpiryDate: time.Now().Add(time.Duration(durationSeconds) * time.Second),
		IsTest:     true,
	}
	s.hub.SetHypeTrain(&train)
	if s.bus != nil {
		s.bus.PublishHypeTrain(&train)
	}
	return train
}

// runAutoDismiss watches the featured slot and marks the featured
// message read once the configured countdown elapses. The timer restarts
// on every slot change and stops on clear.
func (s *Supervisor) runAutoDismiss(ctx context.Context) {
	sig, unsub, err := s.hub.Subscribe("Featured")
	if err != nil {
		slog.Error("supervisor: subscribe featured", "err", err)
		return
	}
	defer unsub()

	var timer *time.Timer
	var fire <-chan time.Time
	pendingID := ""
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, fire = nil, nil
		}
		pendingID = ""
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case sg, ok := <-sig:
			if !ok {
				stopTimer()
				return
			}
			st := sg.State.Data.(data.State)
			stopTimer()
			enabled, seconds := s.live.Dismiss()
			if st.Featured == nil || !enabled || seconds <= 0 {
				continue
			}
			pendingID = st.Featured.ID
			timer = time.NewTimer(time.Duration(seconds) * time.Second)
			fire = timer.C
		case <-fire:
			id := pendingID
			stopTimer()
			if id != "" {
				s.hub.MarkRead(id)
			}
		}
	}
}

func twitchChanged(a, b config.Settings) bool {
	return a.TwitchChannel != b.TwitchChannel ||
		a.TwitchClientID != b.TwitchClientID ||
		a.TwitchAccessToken != b.TwitchAccessToken ||
		a.ShowSubscriptions != b.ShowSubscriptions
}

func youtubeChanged(a, b config.Settings) bool {
	return a.YouTubeVideoID != b.YouTubeVideoID || a.YouTubeAPIKey != b.YouTubeAPIKey
}

func statusPatch(st core.Status, errMsg string) core.StatsPatch {
	return core.StatsPatch{Status: &st, ErrorMessage: &errMsg}
}
