package syncbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/kvstore"
	"github.com/you/streamlink/internal/state"
)

// Listener consumes featured-state and hype-train snapshots written to
// the shared store by other processes and applies them to the local hub.
// Each snapshot is authoritative current state, so applying twice is
// harmless.
type Listener struct {
	store  *kvstore.Store
	hub    *state.Hub
	origin string
}

// NewListener wires the store to the hub. origin is the local
// Broadcaster's id; snapshots carrying it are our own echoes and are
// skipped.
func NewListener(store *kvstore.Store, hub *state.Hub, origin string) *Listener {
	return &Listener{store: store, hub: hub, origin: origin}
}

// Run starts watchers on both shared paths. It returns after setup;
// observation continues in the background until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.store.Watch(ctx, KeyFeatured, l.onFeatured); err != nil {
		return err
	}
	return l.store.Watch(ctx, KeyHypeTrain, l.onHypeTrain)
}

func (l *Listener) onFeatured(value string, ok bool) {
	if !ok || value == "" {
		// An absent snapshot reads as "no featured message".
		l.hub.ApplyRemote(core.SyncEvent{Type: core.SyncClearFeatured})
		return
	}
	var ev core.SyncEvent
	if err := json.Unmarshal([]byte(value), &ev); err != nil {
		slog.Warn("syncbus: malformed featured snapshot", "err", err)
		l.hub.ApplyRemote(core.SyncEvent{Type: core.SyncClearFeatured})
		return
	}
	if ev.Origin != "" && ev.Origin == l.origin {
		return
	}
	l.hub.ApplyRemote(ev)
}

func (l *Listener) onHypeTrain(value string, ok bool) {
	if !ok || value == "" {
		l.hub.SetHypeTrain(nil)
		return
	}
	var env hypeTrainEnvelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		slog.Warn("syncbus: malformed hype train snapshot", "err", err)
		return
	}
	if env.Origin != "" && env.Origin == l.origin {
		return
	}
	l.hub.SetHypeTrain(env.Train)
}
