// Package syncbus propagates featured-state changes between surfaces.
// Publishing fans an event out to in-process subscribers (the SSE layer)
// and writes the same event to the shared key-value store so a separate
// overlay process picks it up. Every event carries an Origin id so
// consumers can drop their own writes when the store echoes them back.
package syncbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/kvstore"
)

// Store paths shared with the overlay process.
const (
	KeyFeatured  = "sync/featured"
	KeyHypeTrain = "sync/hypetrain"
)

const subscriberBuffer = 16

const remoteWriteTimeout = 3 * time.Second

// DismissConfig returns the publisher's current auto-dismiss settings,
// stamped onto every event so consumers without local configuration can
// compute dismissal timing themselves.
type DismissConfig func() (enabled bool, seconds int)

// Broadcaster builds SyncEvents from featured-slot changes and delivers
// them locally and remotely. Safe for concurrent use.
type Broadcaster struct {
	origin  string
	store   *kvstore.Store
	dismiss DismissConfig
	clock   func() time.Time

	mu      sync.Mutex
	subs    map[chan core.SyncEvent]struct{}
	dropped uint64
}

// New constructs a Broadcaster. store may be nil, in which case events
// only reach in-process subscribers.
func New(store *kvstore.Store, dismiss DismissConfig) *Broadcaster {
	if dismiss == nil {
		dismiss = func() (bool, int) { return false, 0 }
	}
	return &Broadcaster{
		origin:  uuid.NewString(),
		store:   store,
		dismiss: dismiss,
		clock:   time.Now,
		subs:    make(map[chan core.SyncEvent]struct{}),
	}
}

// Origin is this process's publisher id.
func (b *Broadcaster) Origin() string { return b.origin }

// SetClock overrides the wall clock, for tests.
func (b *Broadcaster) SetClock(clock func() time.Time) {
	b.mu.Lock()
	b.clock = clock
	b.mu.Unlock()
}

// Subscribe registers an in-process consumer. Slow consumers lose events
// rather than stalling the publisher. The returned cancel func must be
// called exactly once.
func (b *Broadcaster) Subscribe() (<-chan core.SyncEvent, func()) {
	ch := make(chan core.SyncEvent, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish implements state.Broadcaster. A message means SET_FEATURED, nil
// means CLEAR_FEATURED.
func (b *Broadcaster) Publish(msg *core.ChatMessage) {
	enabled, seconds := b.dismiss()

	b.mu.Lock()
	now := b.clock()
	ev := core.SyncEvent{
		Type:               core.SyncClearFeatured,
		Timestamp:          now.UnixMilli(),
		AutoDismissEnabled: enabled,
		AutoDismissSeconds: seconds,
		Origin:             b.origin,
	}
	if msg != nil {
		cp := *msg
		ev.Type = core.SyncSetFeatured
		ev.Payload = &cp
		at := cp.FeaturedAt
		ev.FeaturedAt = &at
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				slog.Warn("syncbus: dropping event for slow subscriber", "dropped", b.dropped)
			}
		}
	}
	b.mu.Unlock()

	b.writeRemote(KeyFeatured, ev)
}

// PublishHypeTrain mirrors hype-train state to the shared store so the
// overlay can render the progress bar. nil removes the key.
func (b *Broadcaster) PublishHypeTrain(train *core.HypeTrainData) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
	defer cancel()

	if train == nil {
		if err := b.store.Delete(ctx, KeyHypeTrain); err != nil {
			slog.Error("syncbus: clear hype train", "err", err)
		}
		return
	}
	env := hypeTrainEnvelope{Origin: b.origin, Train: train}
	raw, err := json.Marshal(env)
	if err != nil {
		slog.Error("syncbus: encode hype train", "err", err)
		return
	}
	if err := b.store.Set(ctx, KeyHypeTrain, string(raw)); err != nil {
		slog.Error("syncbus: write hype train", "err", err)
	}
}

func (b *Broadcaster) writeRemote(key string, ev core.SyncEvent) {
	if b.store == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Error("syncbus: encode event", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
	defer cancel()
	if err := b.store.Set(ctx, key, string(raw)); err != nil {
		slog.Error("syncbus: write remote", "key", key, "err", err)
	}
}

type hypeTrainEnvelope struct {
	Origin string              `json:"origin"`
	Train  *core.HypeTrainData `json:"train"`
}
