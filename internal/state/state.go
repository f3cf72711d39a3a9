// Package state wires the boutique store, its modifiers and the sync
// broadcaster into a Hub: the single writer for the message collection and
// the featured slot. Platform clients and operator surfaces only submit
// commands here; they never mutate state themselves.
package state

import (
	"sync"
	"time"

	"github.com/johnsiilver/boutique"

	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/state/actions"
	"github.com/you/streamlink/internal/state/data"
	"github.com/you/streamlink/internal/state/modifiers"
)

// Broadcaster propagates featured-state changes to other surfaces. A nil
// message means CLEAR_FEATURED.
type Broadcaster interface {
	Publish(msg *core.ChatMessage)
}

// Hub owns the store. Commands perform an action and, where the featured
// slot changed, publish the result while still holding the command lock so
// broadcast order matches mutation order.
type Hub struct {
	Store *boutique.Store

	mu    sync.Mutex
	b     Broadcaster
	clock func() time.Time
}

// New constructs a Hub with an empty history and both platforms offline.
// b may be nil (no broadcasts), which the tests use.
func New(b Broadcaster) (*Hub, error) {
	s, err := boutique.New(data.New(), modifiers.All, nil)
	if err != nil {
		return nil, err
	}
	return &Hub{Store: s, b: b, clock: time.Now}, nil
}

// SetClock overrides the wall clock, for tests.
func (h *Hub) SetClock(clock func() time.Time) {
	h.mu.Lock()
	h.clock = clock
	h.mu.Unlock()
}

// Snapshot returns the current immutable state. An expired hype train reads
// as absent.
func (h *Hub) Snapshot() data.State {
	s := h.Store.State().Data.(data.State)
	if s.HypeTrain != nil && s.HypeTrain.Expired(time.Now()) {
		s.HypeTrain = nil
	}
	return s
}

// Subscribe exposes boutique field subscriptions ("Messages", "Featured",
// "Stats", boutique.Any...) for surfaces that stream state changes.
func (h *Hub) Subscribe(field string) (chan boutique.Signal, boutique.CancelFunc, error) {
	return h.Store.Subscribe(field)
}

// Add inserts a normalized message; duplicate ids are dropped.
func (h *Hub) Add(msg core.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.Store.Perform(actions.AddMessage(msg, h.clock()))
}

// Feature selects the message for on-stream display and publishes it.
// Unknown ids are a no-op and publish nothing.
func (h *Hub) Feature(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.current().FindMessage(id); !exists {
		return
	}
	_ = h.Store.Perform(actions.Feature(id, h.clock()))
	if f := h.current().Featured; f != nil && h.b != nil {
		cp := *f
		h.b.Publish(&cp)
	}
}

// MarkRead marks the message read; if it was featured the slot empties and
// a clear event is published.
func (h *Hub) MarkRead(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasFeatured := h.current().FeaturedID() == id
	_ = h.Store.Perform(actions.MarkRead(id))
	if wasFeatured && h.b != nil {
		h.b.Publish(nil)
	}
}

// MarkTrashed marks the message read+trashed; a featured target also clears
// the slot with a broadcast.
func (h *Hub) MarkTrashed(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasFeatured := h.current().FeaturedID() == id
	_ = h.Store.Perform(actions.MarkTrashed(id))
	if wasFeatured && h.b != nil {
		h.b.Publish(nil)
	}
}

// ToggleInteresting flips the flag; featured state is untouched.
func (h *Hub) ToggleInteresting(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.Store.Perform(actions.ToggleInteresting(id))
}

// ClearFeatured empties the slot and always publishes a clear event.
func (h *Hub) ClearFeatured() {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = h.Store.Perform(actions.ClearFeatured())
	if h.b != nil {
		h.b.Publish(nil)
	}
}

// UpdateStats merges a partial stats record for one platform.
func (h *Hub) UpdateStats(platform core.Platform, patch core.StatsPatch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.Store.Perform(actions.UpdateStats(platform, patch))
}

// ResetStats puts a platform back to a full replacement value, typically
// core.OfflineStats() when it is unconfigured.
func (h *Hub) ResetStats(platform core.Platform, full core.StreamStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.Store.Perform(actions.ResetStats(platform, full))
}

// SetHypeTrain applies a poll result, honoring the simulated-train rule.
func (h *Hub) SetHypeTrain(train *core.HypeTrainData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.Store.Perform(actions.SetHypeTrain(train, h.clock()))
}

// SetQuota mirrors the quota tracker's running count for display.
func (h *Hub) SetQuota(units int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.Store.Perform(actions.SetQuota(units))
}

// ApplyRemote applies a featured-state snapshot received from another
// surface or process. It never republishes; doing so would echo forever.
func (h *Hub) ApplyRemote(ev core.SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type == core.SyncSetFeatured && ev.Payload != nil {
		featuredAt := ev.Payload.FeaturedAt
		if ev.FeaturedAt != nil {
			featuredAt = *ev.FeaturedAt
		}
		_ = h.Store.Perform(actions.ApplyRemoteSet(ev.Payload, featuredAt))
		return
	}
	// CLEAR_FEATURED, and anything malformed, reads as "no featured
	// message".
	_ = h.Store.Perform(actions.ApplyRemoteClear())
}

func (h *Hub) current() data.State {
	return h.Store.State().Data.(data.State)
}
