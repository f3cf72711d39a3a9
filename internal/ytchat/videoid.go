package ytchat

import (
	"net/url"
	"regexp"
	"strings"
)

var studioVideoRe = regexp.MustCompile(`/video/([^/]+)`)

// ExtractVideoID normalizes operator input to a bare video id. Accepted
// forms: the bare 11-character id, a full watch URL, a youtu.be short
// link and a Studio console URL.
func ExtractVideoID(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	if strings.Contains(trimmed, "studio.youtube.com/video/") {
		if m := studioVideoRe.FindStringSubmatch(trimmed); m != nil {
			return m[1]
		}
	}

	if strings.Contains(trimmed, "youtube.com") || strings.Contains(trimmed, "youtu.be") {
		raw := trimmed
		if !strings.HasPrefix(raw, "http") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return trimmed
		}
		if strings.Contains(trimmed, "youtu.be") {
			return strings.TrimPrefix(u.Path, "/")
		}
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		return trimmed
	}

	return trimmed
}
