package twitchchat

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

type dropCounts struct {
	total     int
	byCommand map[string]int
	sample    string
}

// dropLogger aggregates dropped inbound frames and emits one summary
// line per reason every interval, instead of logging per frame. Verbose
// mode additionally logs each drop at debug level.
type dropLogger struct {
	verbose  bool
	interval time.Duration
	nextEmit time.Time
	reasons  map[string]*dropCounts
}

func newDropLogger(now time.Time, verbose bool, interval time.Duration) *dropLogger {
	if interval <= 0 {
		interval = dropSummaryInterval
	}
	return &dropLogger{
		verbose:  verbose,
		interval: interval,
		nextEmit: now.Add(interval),
		reasons:  make(map[string]*dropCounts),
	}
}

func (d *dropLogger) note(now time.Time, reason, rawLine string) {
	if d == nil {
		return
	}
	cmd, sample := summarizeDropped(rawLine)
	if d.verbose {
		slog.Debug("twitchchat: dropped frame", "reason", reason, "command", cmd, "sample", sample)
	}

	entry := d.reasons[reason]
	if entry == nil {
		entry = &dropCounts{byCommand: make(map[string]int)}
		d.reasons[reason] = entry
	}
	entry.total++
	entry.byCommand[cmd]++
	if entry.sample == "" {
		entry.sample = sample
	}

	if !now.Before(d.nextEmit) {
		d.flush(now)
	}
}

func (d *dropLogger) flush(now time.Time) {
	for _, reason := range sortedKeys(d.reasons) {
		rs := d.reasons[reason]
		if rs == nil || rs.total == 0 {
			continue
		}
		slog.Info("twitchchat: dropped_"+reason,
			"total", rs.total,
			"commands", formatCounts(rs.byCommand),
			"sample", rs.sample,
		)
	}
	clear(d.reasons)
	d.nextEmit = now.Add(d.interval)
}

// summarizeDropped extracts the IRC command and a redacted, truncated
// sample. Credentials must never reach the log.
func summarizeDropped(rawLine string) (cmd, sample string) {
	line, ok := parseLine(rawLine)
	if !ok {
		return "UNKNOWN", redact(rawLine)
	}
	cmd = line.command
	if cmd == "" {
		cmd = "UNKNOWN"
	}
	sample = line.trailing
	if cmd == "USERNOTICE" {
		if msgID := line.tags["msg-id"]; msgID != "" {
			sample = "msg-id=" + msgID
		}
	}
	if sample == "" {
		sample = line.params
	}
	return cmd, redact(sample)
}

func redact(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "PASS ") || upper == "PASS" {
		return "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllStringFunc(s, func(v string) string {
		if strings.HasPrefix(v, "#") {
			return v
		}
		return "[REDACTED]"
	})
	if len(s) > dropSampleMaxLen {
		s = s[:dropSampleMaxLen-3] + "..."
	}
	return s
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, cmd := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s:%d", cmd, counts[cmd]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func readDropDebugEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("STREAMLINK_TWITCH_DEBUG_DROPS"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
