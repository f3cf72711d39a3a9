// Package actions defines the boutique.Actions that modifiers apply to the
// state store. Actions carry explicit timestamps so the modifiers stay pure.
package actions

import (
	"time"

	"github.com/johnsiilver/boutique"

	"github.com/you/streamlink/internal/core"
)

const (
	// ActAddMessage inserts a normalized message into the history.
	ActAddMessage = iota
	// ActFeature selects a message for on-stream display.
	ActFeature
	// ActMarkRead marks a message read and un-features it.
	ActMarkRead
	// ActMarkTrashed marks a message read+trashed and un-features it.
	ActMarkTrashed
	// ActToggleInteresting flips the interesting flag.
	ActToggleInteresting
	// ActClearFeatured empties the featured slot.
	ActClearFeatured
	// ActUpdateStats merges a partial stats record for one platform.
	ActUpdateStats
	// ActResetStats replaces a platform's stats record outright.
	ActResetStats
	// ActSetHypeTrain applies a hype train poll result.
	ActSetHypeTrain
	// ActSetQuota mirrors the quota tracker's running count.
	ActSetQuota
	// ActApplyRemoteFeatured applies an authoritative remote featured
	// snapshot without republishing it.
	ActApplyRemoteFeatured
)

// Timestamped wraps payloads whose modifiers need a wall-clock reading.
type Timestamped[T any] struct {
	Value T
	Now   time.Time
}

// IDPayload targets a single message by id.
type IDPayload struct {
	ID  string
	Now time.Time
}

// StatsPayload carries a partial or full stats update for one platform.
type StatsPayload struct {
	Platform core.Platform
	Patch    core.StatsPatch
	Full     core.StreamStats
}

// RemotePayload carries a remote featured-state snapshot.
type RemotePayload struct {
	Set        bool
	Message    *core.ChatMessage
	FeaturedAt int64
}

// AddMessage inserts msg unless its id already exists. Donations without an
// explicit pin duration receive the default at add time.
func AddMessage(msg core.ChatMessage, now time.Time) boutique.Action {
	return boutique.Action{Type: ActAddMessage, Update: Timestamped[core.ChatMessage]{Value: msg, Now: now}}
}

// Feature selects the message with the given id; absent ids are a no-op.
func Feature(id string, now time.Time) boutique.Action {
	return boutique.Action{Type: ActFeature, Update: IDPayload{ID: id, Now: now}}
}

func MarkRead(id string) boutique.Action {
	return boutique.Action{Type: ActMarkRead, Update: IDPayload{ID: id}}
}

func MarkTrashed(id string) boutique.Action {
	return boutique.Action{Type: ActMarkTrashed, Update: IDPayload{ID: id}}
}

func ToggleInteresting(id string) boutique.Action {
	return boutique.Action{Type: ActToggleInteresting, Update: IDPayload{ID: id}}
}

func ClearFeatured() boutique.Action {
	return boutique.Action{Type: ActClearFeatured}
}

// UpdateStats merges patch into the platform's stats record.
func UpdateStats(platform core.Platform, patch core.StatsPatch) boutique.Action {
	return boutique.Action{Type: ActUpdateStats, Update: StatsPayload{Platform: platform, Patch: patch}}
}

// ResetStats replaces the platform's stats record, used when a platform is
// unconfigured and must read offline again.
func ResetStats(platform core.Platform, full core.StreamStats) boutique.Action {
	return boutique.Action{Type: ActResetStats, Update: StatsPayload{Platform: platform, Full: full}}
}

// SetHypeTrain applies a poll result. A nil or inactive result does not
// displace a locally simulated (IsTest) train.
func SetHypeTrain(train *core.HypeTrainData, now time.Time) boutique.Action {
	return boutique.Action{Type: ActSetHypeTrain, Update: Timestamped[*core.HypeTrainData]{Value: train, Now: now}}
}

func SetQuota(units int) boutique.Action {
	return boutique.Action{Type: ActSetQuota, Update: units}
}

// ApplyRemoteSet applies a SET_FEATURED snapshot received from another
// surface or process.
func ApplyRemoteSet(msg *core.ChatMessage, featuredAt int64) boutique.Action {
	return boutique.Action{Type: ActApplyRemoteFeatured, Update: RemotePayload{Set: true, Message: msg, FeaturedAt: featuredAt}}
}

// ApplyRemoteClear applies a CLEAR_FEATURED snapshot: only the message that
// was featured transitions to read.
func ApplyRemoteClear() boutique.Action {
	return boutique.Action{Type: ActApplyRemoteFeatured, Update: RemotePayload{Set: false}}
}
