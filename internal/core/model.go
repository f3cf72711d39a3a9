// Package core holds the canonical model shared by the platform clients,
// the state store and the sync layer.
package core

import "time"

// Platform identifies the chat source a message came from.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// EventType classifies a ChatMessage beyond plain chat lines.
type EventType string

const (
	EventChat         EventType = "chat"
	EventDonation     EventType = "donation"
	EventSubscription EventType = "subscription"
	EventFollow       EventType = "follow"
)

// Status is the per-platform connection state reported to operators.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusError      Status = "error"
)

// SubscriptionData carries the structured payload of a subscription event.
type SubscriptionData struct {
	Plan   string `json:"plan,omitempty"`
	Months int    `json:"months,omitempty"`
	IsGift bool   `json:"isGift,omitempty"`
	Gifter string `json:"gifter,omitempty"`
	Streak int    `json:"streak,omitempty"`
}

// ChatMessage is one normalized chat line or platform event. Identity is the
// platform-assigned id when available, otherwise a locally generated one.
// Flags are mutated only by the state store; everything else is immutable
// after normalization.
type ChatMessage struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Platform  Platform  `json:"platform"`
	Timestamp time.Time `json:"timestamp"`

	IsRead         bool `json:"isRead"`
	IsFeatured     bool `json:"isFeatured"`
	IsTrashed      bool `json:"isTrashed,omitempty"`
	IsInteresting  bool `json:"isInteresting,omitempty"`
	IsFirstMessage bool `json:"isFirstMessage,omitempty"`

	// FeaturedAt is Unix milliseconds, set exactly while IsFeatured is true.
	FeaturedAt int64 `json:"featuredAt,omitempty"`

	AvatarURL   string `json:"avatarUrl,omitempty"`
	AuthorColor string `json:"authorColor,omitempty"`

	// DonationAmount is a display string ("500 CZK", "$5.00") present only
	// for monetary events.
	DonationAmount string `json:"donationAmount,omitempty"`
	// PinnedAt/PinnedDuration govern the pinned-donation widget lifetime,
	// independent of the featured slot. PinnedDuration is seconds,
	// PinnedAt Unix milliseconds.
	PinnedDuration int   `json:"pinnedDuration,omitempty"`
	PinnedAt       int64 `json:"pinnedAt,omitempty"`

	EventType    EventType         `json:"eventType,omitempty"`
	Subscription *SubscriptionData `json:"subscription,omitempty"`
}

// Kind returns the effective event type; messages normalized before the
// field existed default to plain chat.
func (m ChatMessage) Kind() EventType {
	if m.EventType == "" {
		return EventChat
	}
	return m.EventType
}

// StreamStats is the best-effort per-platform stream status record.
type StreamStats struct {
	Viewers      int    `json:"viewers"`
	Status       Status `json:"status"`
	Title        string `json:"title"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// OfflineStats is the reset value used when a platform is unconfigured.
func OfflineStats() StreamStats {
	return StreamStats{Status: StatusOffline, Title: "Not connected"}
}

// StatsPatch is a partial StreamStats merge submitted by connection
// callbacks. Nil fields leave the current value untouched.
type StatsPatch struct {
	Viewers      *int
	Status       *Status
	Title        *string
	ErrorMessage *string
}

// HypeTrainData mirrors the platform's community-momentum event. A locally
// simulated train is tagged IsTest and is only replaced by an active real
// train, never by a "no train" poll result.
type HypeTrainData struct {
	ID         string    `json:"id"`
	Level      int       `json:"level"`
	Progress   int       `json:"progress"`
	Goal       int       `json:"goal"`
	Total      int       `json:"total"`
	IsActive   bool      `json:"isActive"`
	ExpiryDate time.Time `json:"expiryDate,omitempty"`
	IsTest     bool      `json:"isTest,omitempty"`
}

// Expired reports whether the train's expiry is in the past.
func (h HypeTrainData) Expired(now time.Time) bool {
	return !h.ExpiryDate.IsZero() && h.ExpiryDate.Before(now)
}

// SyncEventType distinguishes the two featured-state broadcasts.
type SyncEventType string

const (
	SyncSetFeatured   SyncEventType = "SET_FEATURED"
	SyncClearFeatured SyncEventType = "CLEAR_FEATURED"
)

// SyncEvent is the featured-state change propagated to other surfaces and
// to the shared remote store. It carries the publisher's auto-dismiss
// configuration so consumers that do not share local settings can compute
// dismissal timing on their own. Payload timestamps serialize as RFC 3339
// text, which is what the JSON-only remote store can carry.
type SyncEvent struct {
	Type    SyncEventType `json:"type"`
	Payload *ChatMessage  `json:"payload"`
	// Timestamp is the publish time in Unix milliseconds.
	Timestamp          int64  `json:"timestamp"`
	AutoDismissEnabled bool   `json:"autoDismissEnabled"`
	AutoDismissSeconds int    `json:"autoDismissSeconds"`
	FeaturedAt         *int64 `json:"featuredAt"`
	// Origin identifies the publishing process so consumers can ignore
	// their own writes echoed back from the remote store.
	Origin string `json:"origin,omitempty"`
}
