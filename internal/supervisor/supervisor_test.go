package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/you/streamlink/internal/config"
	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/kvstore"
	"github.com/you/streamlink/internal/quota"
	"github.com/you/streamlink/internal/state"
)

func newFixture(t *testing.T, settings config.Settings) (*Supervisor, *state.Hub, *quota.Tracker) {
	t.Helper()
	hub, err := state.New(nil)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	tracker := quota.New(store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sup := New(ctx, hub, tracker, nil, config.NewLive(settings))
	t.Cleanup(sup.Shutdown)
	return sup, hub, tracker
}

func TestApplyUnconfiguredResetsStats(t *testing.T) {
	sup, hub, _ := newFixture(t, config.Settings{})
	sup.Apply(config.Settings{})

	snap := hub.Snapshot()
	for _, p := range []core.Platform{core.PlatformTwitch, core.PlatformYouTube} {
		st := snap.Stats[p]
		if st.Status != core.StatusOffline {
			t.Errorf("%s status: %q", p, st.Status)
		}
		if st.Title != "Not connected" {
			t.Errorf("%s title: %q", p, st.Title)
		}
	}
}

func TestConcurrentApplyIsSafe(t *testing.T) {
	sup, hub, _ := newFixture(t, config.Settings{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sup.Apply(config.Settings{})
				sup.PauseYouTube()
				sup.ResumeYouTube()
			}
		}()
	}
	wg.Wait()

	if st := hub.Snapshot().Stats[core.PlatformTwitch]; st.Status != core.StatusOffline {
		t.Fatalf("twitch status after concurrent applies: %q", st.Status)
	}
}

func TestQuotaCallbackMirrorsIntoHub(t *testing.T) {
	sup, hub, tracker := newFixture(t, config.Settings{})

	sup.onQuota(1)
	sup.onQuota(4)

	n, err := tracker.Usage(context.Background())
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if n != 5 {
		t.Fatalf("tracker usage: %d", n)
	}
	if got := hub.Snapshot().QuotaUsage; got != 5 {
		t.Fatalf("hub quota mirror: %d", got)
	}
}

func TestSimulateHypeTrain(t *testing.T) {
	sup, hub, _ := newFixture(t, config.Settings{ShowHypeTrain: true})

	train := sup.SimulateHypeTrain(3, 60)
	if !train.IsTest || !train.IsActive || train.Level != 3 {
		t.Fatalf("train: %+v", train)
	}

	snap := hub.Snapshot()
	if snap.HypeTrain == nil || !snap.HypeTrain.IsTest {
		t.Fatalf("store train: %+v", snap.HypeTrain)
	}

	// A "no train" poll result must not displace the simulation.
	sup.onHypeTrain(nil)
	if snap := hub.Snapshot(); snap.HypeTrain == nil {
		t.Fatal("empty poll displaced the simulated train")
	}
}

func TestHypeTrainHiddenWhenDisabled(t *testing.T) {
	sup, hub, _ := newFixture(t, config.Settings{ShowHypeTrain: false})

	sup.onHypeTrain(&core.HypeTrainData{ID: "real", IsActive: true, ExpiryDate: time.Now().Add(time.Minute)})
	if snap := hub.Snapshot(); snap.HypeTrain != nil {
		t.Fatalf("disabled feature stored a train: %+v", snap.HypeTrain)
	}
}

func TestAutoDismissMarksFeaturedRead(t *testing.T) {
	_, hub, _ := newFixture(t, config.Settings{
		AutoDismissEnabled: true,
		AutoDismissSeconds: 1,
	})

	hub.Add(core.ChatMessage{ID: "m1", Author: "a", Text: "x", Platform: core.PlatformTwitch, Timestamp: time.Now()})
	hub.Feature("m1")
	if hub.Snapshot().Featured == nil {
		t.Fatal("setup: feature failed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := hub.Snapshot()
		if snap.Featured == nil {
			msg, ok := snap.FindMessage("m1")
			if !ok || !msg.IsRead {
				t.Fatalf("dismissed message not marked read: %+v", msg)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("featured message was never auto-dismissed")
}

func TestInjectTestMessages(t *testing.T) {
	sup, hub, _ := newFixture(t, config.Settings{})

	sup.InjectTestMessages(3)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.Snapshot().Messages) >= 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected 3 test messages, have %d", len(hub.Snapshot().Messages))
}

func TestChangeDetection(t *testing.T) {
	a := config.Settings{TwitchChannel: "chan", YouTubeAPIKey: "k", YouTubeVideoID: "v"}
	b := a
	if twitchChanged(a, b) || youtubeChanged(a, b) {
		t.Fatal("identical settings must not trigger restarts")
	}
	b.TwitchAccessToken = "tok"
	if !twitchChanged(a, b) {
		t.Fatal("token change must restart twitch")
	}
	if youtubeChanged(a, b) {
		t.Fatal("token change must not restart youtube")
	}
	c := a
	c.YouTubeVideoID = "other"
	if !youtubeChanged(a, c) {
		t.Fatal("video change must restart youtube")
	}
}
