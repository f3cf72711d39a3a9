package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Settings is the typed configuration snapshot consumed by the connection
// layer. It is input-only: components react to changed snapshots by
// reconnecting, they never write back into it.
type Settings struct {
	TwitchChannel     string
	TwitchClientID    string
	TwitchAccessToken string

	// YouTubeVideoID is session-only: it is accepted from env/flags but is
	// never persisted, so every run starts without a stale stream id.
	YouTubeVideoID string
	YouTubeAPIKey  string

	AutoDismissEnabled bool
	AutoDismissSeconds int

	ShowHypeTrain     bool
	ShowSubscriptions bool
}

type ServerConfig struct {
	Addr        string
	KVPath      string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	AccessLog   bool
	Metrics     bool
}

type Config struct {
	Settings Settings
	Server   ServerConfig
}

const (
	defaultKVPath          = "streamlink.db"
	defaultAddr            = ":8791"
	defaultDismissSeconds  = 15
	defaultRateRPS         = 20
	defaultRateBurst       = 40
)

// Load reads configuration from the environment. STREAMLINK_* variables win;
// legacy unprefixed names are honored as fallbacks.
func Load() Config {
	cfg := Config{}

	cfg.Settings.TwitchChannel = readString("STREAMLINK_TWITCH_CHANNEL", "TWITCH_CHANNEL")
	cfg.Settings.TwitchClientID = readString("STREAMLINK_TWITCH_CLIENT_ID", "TWITCH_CLIENT_ID")
	cfg.Settings.TwitchAccessToken = readString("STREAMLINK_TWITCH_ACCESS_TOKEN", "TWITCH_ACCESS_TOKEN")
	cfg.Settings.YouTubeVideoID = readString("STREAMLINK_YT_VIDEO_ID", "YOUTUBE_VIDEO_ID")
	cfg.Settings.YouTubeAPIKey = readString("STREAMLINK_YT_API_KEY", "YOUTUBE_API_KEY")

	cfg.Settings.AutoDismissEnabled = readBool("STREAMLINK_AUTO_DISMISS", true)
	cfg.Settings.AutoDismissSeconds = readInt("STREAMLINK_AUTO_DISMISS_SECS", defaultDismissSeconds)
	cfg.Settings.ShowHypeTrain = readBool("STREAMLINK_SHOW_HYPE_TRAIN", true)
	cfg.Settings.ShowSubscriptions = readBool("STREAMLINK_SHOW_SUBSCRIPTIONS", true)

	cfg.Server.Addr = readString("STREAMLINK_HTTP_ADDR", "")
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	cfg.Server.KVPath = readString("STREAMLINK_KV_PATH", "")
	if cfg.Server.KVPath == "" {
		cfg.Server.KVPath = defaultKVPath
	}
	cfg.Server.CORSOrigins = splitList(os.Getenv("STREAMLINK_HTTP_CORS_ORIGINS"))
	cfg.Server.RateRPS = readInt("STREAMLINK_HTTP_RATE_RPS", defaultRateRPS)
	cfg.Server.RateBurst = readInt("STREAMLINK_HTTP_RATE_BURST", defaultRateBurst)
	cfg.Server.AccessLog = readBool("STREAMLINK_HTTP_ACCESS_LOG", true)
	cfg.Server.Metrics = readBool("STREAMLINK_HTTP_METRICS", true)

	return cfg
}

// TwitchConfigured reports whether the Twitch client should run at all.
func (s Settings) TwitchConfigured() bool {
	return strings.TrimSpace(s.TwitchChannel) != ""
}

// TwitchElevated reports whether Helix polling (viewers, hype train) is
// possible: it needs an app client id and a user access token.
func (s Settings) TwitchElevated() bool {
	return strings.TrimSpace(s.TwitchClientID) != "" && strings.TrimSpace(s.TwitchAccessToken) != ""
}

// YouTubeConfigured reports whether the YouTube client should run.
func (s Settings) YouTubeConfigured() bool {
	return strings.TrimSpace(s.YouTubeAPIKey) != "" && strings.TrimSpace(s.YouTubeVideoID) != ""
}

// Redacted returns a loggable view of the settings with secrets masked.
func (s Settings) Redacted() map[string]any {
	return map[string]any{
		"twitch_channel":       s.TwitchChannel,
		"twitch_client_id":     redactString(s.TwitchClientID),
		"twitch_access_token":  redactString(s.TwitchAccessToken),
		"youtube_video_id":     s.YouTubeVideoID,
		"youtube_api_key":      redactString(s.YouTubeAPIKey),
		"auto_dismiss":         s.AutoDismissEnabled,
		"auto_dismiss_seconds": s.AutoDismissSeconds,
		"show_hype_train":      s.ShowHypeTrain,
		"show_subscriptions":   s.ShowSubscriptions,
	}
}

func (s Settings) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(s.Redacted(), "", "  ")
	return data
}

func readString(name, legacy string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" && legacy != "" {
		v = strings.TrimSpace(os.Getenv(legacy))
	}
	return v
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
