// Package data holds the application state object stored in the boutique
// instance. Everything here is treated as immutable: modifiers replace
// slices, maps and pointers instead of mutating them in place.
package data

import "github.com/you/streamlink/internal/core"

// MaxMessages bounds the retained history. Overflow evicts the oldest
// entries regardless of their flags.
const MaxMessages = 200

// State is the single store for the aggregation core.
type State struct {
	// Messages is the bounded history, newest first.
	Messages []core.ChatMessage

	// Featured is the single message currently selected for on-stream
	// display, or nil. At most one entry in Messages carries
	// IsFeatured=true and it matches this pointer's ID.
	Featured *core.ChatMessage

	// Stats holds the per-platform connection status records.
	Stats map[core.Platform]core.StreamStats

	// HypeTrain is the last known train state, nil when none is active.
	HypeTrain *core.HypeTrainData

	// QuotaUsage mirrors the quota tracker's running unit count for
	// dashboard display.
	QuotaUsage int
}

// New returns the initial state with both platforms offline.
func New() State {
	return State{
		Messages: make([]core.ChatMessage, 0, 32),
		Stats: map[core.Platform]core.StreamStats{
			core.PlatformTwitch:  core.OfflineStats(),
			core.PlatformYouTube: core.OfflineStats(),
		},
	}
}

// FindMessage returns the message with the given id and whether it exists.
func (s State) FindMessage(id string) (core.ChatMessage, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return core.ChatMessage{}, false
}

// FeaturedID returns the id of the featured message or "".
func (s State) FeaturedID() string {
	if s.Featured == nil {
		return ""
	}
	return s.Featured.ID
}
