package twitchchat

import "strings"

// NormalizeToken trims whitespace and strips the legacy "oauth:" prefix
// that older tooling stored. Helix wants the bare token; the IRC PASS
// line re-attaches the prefix itself.
func NormalizeToken(s string) string {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "oauth:")
	return trimmed
}

// NormalizeChannel lowercases and strips a leading "#" so operators can
// paste the channel either way.
func NormalizeChannel(s string) string {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	return strings.TrimPrefix(trimmed, "#")
}
