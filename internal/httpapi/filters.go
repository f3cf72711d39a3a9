package httpapi

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/you/streamlink/internal/core"
)

const (
	defaultLimit = 100
	maxLimit     = 200
)

// Filters captures the parsed query parameters for message listings.
type Filters struct {
	Platforms       []core.Platform
	UnreadOnly      bool
	InterestingOnly bool
	IncludeTrashed  bool
	Limit           int
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{Limit: defaultLimit}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	for _, raw := range values["platform"] {
		switch core.Platform(strings.ToLower(raw)) {
		case core.PlatformTwitch:
			f.Platforms = append(f.Platforms, core.PlatformTwitch)
		case core.PlatformYouTube:
			f.Platforms = append(f.Platforms, core.PlatformYouTube)
		default:
			return Filters{}, errors.New("unknown platform: " + raw)
		}
	}

	f.UnreadOnly = values.Get("unread") == "true"
	f.InterestingOnly = values.Get("interesting") == "true"
	f.IncludeTrashed = values.Get("trashed") == "true"
	return f, nil
}

// Apply filters a newest-first message slice without mutating it.
func (f Filters) Apply(msgs []core.ChatMessage) []core.ChatMessage {
	out := make([]core.ChatMessage, 0, min(len(msgs), f.Limit))
	for _, m := range msgs {
		if len(out) >= f.Limit {
			break
		}
		if m.IsTrashed && !f.IncludeTrashed {
			continue
		}
		if f.UnreadOnly && m.IsRead {
			continue
		}
		if f.InterestingOnly && !m.IsInteresting {
			continue
		}
		if len(f.Platforms) > 0 && !containsPlatform(f.Platforms, m.Platform) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsPlatform(list []core.Platform, p core.Platform) bool {
	for _, c := range list {
		if c == p {
			return true
		}
	}
	return false
}
