// Package modifiers holds the pure functions the boutique store runs to
// produce each new immutable state. Slices and maps are always replaced,
// never mutated.
package modifiers

import (
	"github.com/johnsiilver/boutique"

	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/state/actions"
	"github.com/you/streamlink/internal/state/data"
)

// DefaultPinSeconds is assigned to monetary events that arrive without an
// explicit pinned-donation lifetime.
const DefaultPinSeconds = 60

// All is the boutique.Modifiers set wired into the store.
var All = boutique.NewModifiers(
	AddMessage,
	Feature,
	MarkRead,
	MarkTrashed,
	ToggleInteresting,
	ClearFeatured,
	UpdateStats,
	SetHypeTrain,
	SetQuota,
	ApplyRemoteFeatured,
)

// AddMessage handles ActAddMessage: de-dup by id, donation pin defaults,
// prepend, truncate to the history bound.
func AddMessage(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActAddMessage:
		upd := action.Update.(actions.Timestamped[core.ChatMessage])
		msg := upd.Value
		if _, exists := s.FindMessage(msg.ID); exists {
			return s
		}
		if msg.DonationAmount != "" && msg.PinnedDuration == 0 {
			msg.PinnedDuration = DefaultPinSeconds
			msg.PinnedAt = upd.Now.UnixMilli()
		}

		next := make([]core.ChatMessage, 0, len(s.Messages)+1)
		next = append(next, msg)
		next = append(next, s.Messages...)
		if len(next) > data.MaxMessages {
			next = next[:data.MaxMessages]
		}
		s.Messages = next
	}
	return s
}

// Feature handles ActFeature. The target becomes featured (unread,
// untrashed, FeaturedAt stamped), a previously featured message is demoted
// to read, every other message loses featured state. Unknown ids leave the
// state untouched. Re-featuring the current message refreshes FeaturedAt.
func Feature(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActFeature:
		upd := action.Update.(actions.IDPayload)
		if _, exists := s.FindMessage(upd.ID); !exists {
			return s
		}

		prevID := s.FeaturedID()
		featuredAt := upd.Now.UnixMilli()

		next := make([]core.ChatMessage, len(s.Messages))
		var featured *core.ChatMessage
		for i, m := range s.Messages {
			switch {
			case m.ID == upd.ID:
				m.IsFeatured = true
				m.IsRead = false
				m.IsTrashed = false
				m.FeaturedAt = featuredAt
				cp := m
				featured = &cp
			case prevID != "" && m.ID == prevID:
				m.IsFeatured = false
				m.IsRead = true
				m.IsTrashed = false
				m.FeaturedAt = 0
			default:
				m.IsFeatured = false
				m.FeaturedAt = 0
			}
			next[i] = m
		}
		s.Messages = next
		s.Featured = featured
	}
	return s
}

// MarkRead handles ActMarkRead: read, not featured, not trashed. If the
// target was the featured message the slot empties.
func MarkRead(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActMarkRead:
		upd := action.Update.(actions.IDPayload)
		s = setFlags(s, upd.ID, func(m core.ChatMessage) core.ChatMessage {
			m.IsRead = true
			m.IsFeatured = false
			m.IsTrashed = false
			m.FeaturedAt = 0
			return m
		})
	}
	return s
}

// MarkTrashed handles ActMarkTrashed: read and trashed, never featured.
func MarkTrashed(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActMarkTrashed:
		upd := action.Update.(actions.IDPayload)
		s = setFlags(s, upd.ID, func(m core.ChatMessage) core.ChatMessage {
			m.IsRead = true
			m.IsTrashed = true
			m.IsFeatured = false
			m.FeaturedAt = 0
			return m
		})
	}
	return s
}

func setFlags(s data.State, id string, apply func(core.ChatMessage) core.ChatMessage) data.State {
	next := make([]core.ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		if m.ID == id {
			m = apply(m)
		}
		next[i] = m
	}
	s.Messages = next
	if s.FeaturedID() == id {
		s.Featured = nil
	}
	return s
}

// ToggleInteresting handles ActToggleInteresting; featured state is
// unaffected.
func ToggleInteresting(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActToggleInteresting:
		upd := action.Update.(actions.IDPayload)
		next := make([]core.ChatMessage, len(s.Messages))
		for i, m := range s.Messages {
			if m.ID == upd.ID {
				m.IsInteresting = !m.IsInteresting
			}
			next[i] = m
		}
		s.Messages = next
	}
	return s
}

// ClearFeatured handles ActClearFeatured: the slot empties and every
// message loses featured state.
func ClearFeatured(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActClearFeatured:
		next := make([]core.ChatMessage, len(s.Messages))
		for i, m := range s.Messages {
			m.IsFeatured = false
			m.FeaturedAt = 0
			next[i] = m
		}
		s.Messages = next
		s.Featured = nil
	}
	return s
}

// UpdateStats handles ActUpdateStats and ActResetStats.
func UpdateStats(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActUpdateStats:
		upd := action.Update.(actions.StatsPayload)
		cur := s.Stats[upd.Platform]
		if upd.Patch.Viewers != nil {
			cur.Viewers = *upd.Patch.Viewers
		}
		if upd.Patch.Status != nil {
			cur.Status = *upd.Patch.Status
		}
		if upd.Patch.Title != nil {
			cur.Title = *upd.Patch.Title
		}
		if upd.Patch.ErrorMessage != nil {
			cur.ErrorMessage = *upd.Patch.ErrorMessage
		}
		s.Stats = replaceStats(s.Stats, upd.Platform, cur)
	case actions.ActResetStats:
		upd := action.Update.(actions.StatsPayload)
		s.Stats = replaceStats(s.Stats, upd.Platform, upd.Full)
	}
	return s
}

func replaceStats(stats map[core.Platform]core.StreamStats, platform core.Platform, value core.StreamStats) map[core.Platform]core.StreamStats {
	next := make(map[core.Platform]core.StreamStats, len(stats)+1)
	for k, v := range stats {
		next[k] = v
	}
	next[platform] = value
	return next
}

// SetHypeTrain handles ActSetHypeTrain. A simulated (IsTest) train survives
// "no active train" poll results and is only displaced by an active real
// train. Expired incoming trains null the slot.
func SetHypeTrain(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActSetHypeTrain:
		upd := action.Update.(actions.Timestamped[*core.HypeTrainData])
		incoming := upd.Value

		if incoming == nil || !incoming.IsActive {
			if s.HypeTrain != nil && s.HypeTrain.IsTest && !s.HypeTrain.Expired(upd.Now) {
				return s
			}
			s.HypeTrain = nil
			return s
		}
		if incoming.Expired(upd.Now) {
			s.HypeTrain = nil
			return s
		}
		cp := *incoming
		s.HypeTrain = &cp
	}
	return s
}

// SetQuota handles ActSetQuota.
func SetQuota(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActSetQuota:
		s.QuotaUsage = action.Update.(int)
	}
	return s
}

// ApplyRemoteFeatured handles ActApplyRemoteFeatured. The remote snapshot is
// authoritative: SET marks exactly the matching id featured, CLEAR empties
// the slot and marks the message that was featured as read. Applying the
// same featured id again is a no-op.
func ApplyRemoteFeatured(state interface{}, action boutique.Action) interface{} {
	s := state.(data.State)

	switch action.Type {
	case actions.ActApplyRemoteFeatured:
		upd := action.Update.(actions.RemotePayload)

		// A SET without a usable message id is malformed; it reads as
		// "no featured message", same as an explicit clear.
		if !upd.Set || upd.Message == nil || upd.Message.ID == "" {
			prevID := s.FeaturedID()
			next := make([]core.ChatMessage, len(s.Messages))
			for i, m := range s.Messages {
				if m.ID == prevID {
					m.IsRead = true
				}
				m.IsFeatured = false
				m.FeaturedAt = 0
				next[i] = m
			}
			s.Messages = next
			s.Featured = nil
			return s
		}

		if s.Featured != nil && s.Featured.ID == upd.Message.ID && s.Featured.FeaturedAt == upd.FeaturedAt {
			return s
		}

		next := make([]core.ChatMessage, len(s.Messages))
		for i, m := range s.Messages {
			if m.ID == upd.Message.ID {
				m.IsFeatured = true
				m.FeaturedAt = upd.FeaturedAt
			} else {
				m.IsFeatured = false
				m.FeaturedAt = 0
			}
			next[i] = m
		}
		s.Messages = next
		cp := *upd.Message
		cp.IsFeatured = true
		cp.FeaturedAt = upd.FeaturedAt
		s.Featured = &cp
	}
	return s
}
