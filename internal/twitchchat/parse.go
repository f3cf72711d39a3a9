package twitchchat

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you/streamlink/internal/core"
)

const defaultAuthorColor = "#9146FF"

// ircLine is one inbound frame split into its protocol parts: the
// semicolon-delimited tag prefix, the server/user prefix, the command and
// the trailing text.
type ircLine struct {
	tags     map[string]string
	prefix   string
	command  string
	params   string
	trailing string
}

func parseLine(raw string) (ircLine, bool) {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return ircLine{}, false
	}
	out := ircLine{tags: map[string]string{}}

	if strings.HasPrefix(line, "@") {
		idx := strings.Index(line, " ")
		if idx == -1 {
			return ircLine{}, false
		}
		for _, kv := range strings.Split(line[1:idx], ";") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			out.tags[k] = unescapeIRC(v)
		}
		line = strings.TrimSpace(line[idx+1:])
	}

	if strings.HasPrefix(line, ":") {
		idx := strings.Index(line, " ")
		if idx == -1 {
			return ircLine{}, false
		}
		out.prefix = line[1:idx]
		line = strings.TrimSpace(line[idx+1:])
	}

	if line == "" {
		return ircLine{}, false
	}
	if idx := strings.Index(line, " :"); idx != -1 {
		out.trailing = line[idx+2:]
		line = strings.TrimSpace(line[:idx])
	}
	cmd, params, _ := strings.Cut(line, " ")
	out.command = strings.ToUpper(cmd)
	out.params = strings.TrimSpace(params)
	return out, true
}

// senderLogin recovers the login name from the ":nick!user@host" prefix.
func (l ircLine) senderLogin() string {
	p := l.prefix
	if idx := strings.Index(p, "!"); idx != -1 {
		return p[:idx]
	}
	return p
}

func (l ircLine) author() string {
	if display := l.tags["display-name"]; display != "" {
		return display
	}
	if login := l.senderLogin(); login != "" {
		return login
	}
	return "Unknown"
}

func (l ircLine) sentAt(now time.Time) time.Time {
	if raw := l.tags["tmi-sent-ts"]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return now.UTC()
}

func (l ircLine) messageID() string {
	if id := l.tags["id"]; id != "" {
		return id
	}
	return uuid.NewString()
}

func avatarURL(author string) string {
	return "https://api.dicebear.com/7.x/identicon/svg?seed=" + url.QueryEscape(author)
}

func authorColor(tags map[string]string) string {
	if c := tags["color"]; c != "" {
		return c
	}
	return defaultAuthorColor
}

// normalizePrivmsg turns a PRIVMSG into a ChatMessage. Lines whose text
// is empty are dropped. A bits tag makes the message a donation event.
func normalizePrivmsg(l ircLine, now time.Time) (core.ChatMessage, bool) {
	text := strings.TrimSpace(l.trailing)
	if text == "" {
		return core.ChatMessage{}, false
	}
	author := l.author()
	msg := core.ChatMessage{
		ID:             l.messageID(),
		Author:         author,
		Text:           text,
		Platform:       core.PlatformTwitch,
		Timestamp:      l.sentAt(now),
		IsFirstMessage: l.tags["first-msg"] == "1",
		AvatarURL:      avatarURL(author),
		AuthorColor:    authorColor(l.tags),
	}
	if raw := l.tags["bits"]; raw != "" {
		if bits, err := strconv.Atoi(raw); err == nil && bits > 0 {
			msg.EventType = core.EventDonation
			msg.DonationAmount = fmt.Sprintf("%d bits", bits)
		}
	}
	return msg, true
}

// normalizeUsernotice handles subscription-family notices. Unrecognized
// msg-id values are dropped.
func normalizeUsernotice(l ircLine, now time.Time) (core.ChatMessage, bool) {
	msgID := l.tags["msg-id"]
	switch msgID {
	case "sub", "resub", "subgift", "anonsubgift", "giftpaidupgrade":
	default:
		return core.ChatMessage{}, false
	}

	author := l.author()
	sub := &core.SubscriptionData{
		Plan:   l.tags["msg-param-sub-plan"],
		IsGift: msgID == "subgift" || msgID == "anonsubgift",
	}
	if raw := l.tags["msg-param-cumulative-months"]; raw != "" {
		sub.Months, _ = strconv.Atoi(raw)
	} else if raw := l.tags["msg-param-months"]; raw != "" {
		sub.Months, _ = strconv.Atoi(raw)
	}
	if raw := l.tags["msg-param-streak-months"]; raw != "" {
		sub.Streak, _ = strconv.Atoi(raw)
	}
	if sub.IsGift {
		sub.Gifter = author
		if login := l.tags["login"]; login != "" {
			sub.Gifter = login
		}
	}

	text := strings.TrimSpace(l.trailing)
	if text == "" {
		text = strings.TrimSpace(l.tags["system-msg"])
	}
	if text == "" {
		text = author + " subscribed!"
	}

	return core.ChatMessage{
		ID:           l.messageID(),
		Author:       author,
		Text:         text,
		Platform:     core.PlatformTwitch,
		Timestamp:    l.sentAt(now),
		AvatarURL:    avatarURL(author),
		AuthorColor:  authorColor(l.tags),
		EventType:    core.EventSubscription,
		Subscription: sub,
	}, true
}

func unescapeIRC(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
