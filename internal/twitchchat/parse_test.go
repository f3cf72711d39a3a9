package twitchchat

import (
	"strings"
	"testing"
	"time"

	"github.com/you/streamlink/internal/core"
)

var now = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, raw string) ircLine {
	t.Helper()
	line, ok := parseLine(raw)
	if !ok {
		t.Fatalf("parseLine(%q) failed", raw)
	}
	return line
}

func TestParsePrivmsg(t *testing.T) {
	raw := "@id=abc123;display-name=Viewer;color=#00FF00;first-msg=1;tmi-sent-ts=1743508800000 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #somechan :hello world"
	msg, ok := normalizePrivmsg(mustParse(t, raw), now)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.ID != "abc123" {
		t.Errorf("id: %q", msg.ID)
	}
	if msg.Author != "Viewer" {
		t.Errorf("author: %q", msg.Author)
	}
	if msg.Text != "hello world" {
		t.Errorf("text: %q", msg.Text)
	}
	if msg.Platform != core.PlatformTwitch {
		t.Errorf("platform: %q", msg.Platform)
	}
	if !msg.IsFirstMessage {
		t.Error("first-msg flag lost")
	}
	if msg.AuthorColor != "#00FF00" {
		t.Errorf("color: %q", msg.AuthorColor)
	}
	if want := time.UnixMilli(1743508800000).UTC(); !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp: %v, want %v", msg.Timestamp, want)
	}
	if !strings.Contains(msg.AvatarURL, "dicebear.com") {
		t.Errorf("avatar: %q", msg.AvatarURL)
	}
}

func TestParsePrivmsgDefaults(t *testing.T) {
	raw := ":viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #somechan :hi"
	msg, ok := normalizePrivmsg(mustParse(t, raw), now)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Author != "viewer" {
		t.Errorf("author from prefix: %q", msg.Author)
	}
	if msg.AuthorColor != defaultAuthorColor {
		t.Errorf("default color: %q", msg.AuthorColor)
	}
	if msg.ID == "" {
		t.Error("expected a generated id")
	}
	if !msg.Timestamp.Equal(now) {
		t.Errorf("timestamp should fall back to local receipt time, got %v", msg.Timestamp)
	}
}

func TestEmptyTextDropped(t *testing.T) {
	raw := "@id=x :viewer!v@v.tmi.twitch.tv PRIVMSG #somechan :   "
	if _, ok := normalizePrivmsg(mustParse(t, raw), now); ok {
		t.Fatal("empty chat text must be dropped")
	}
}

func TestBitsBecomeDonation(t *testing.T) {
	raw := "@id=x;bits=500;display-name=Cheerer :c!c@c.tmi.twitch.tv PRIVMSG #somechan :cheer500 nice one"
	msg, ok := normalizePrivmsg(mustParse(t, raw), now)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.EventType != core.EventDonation {
		t.Errorf("eventType: %q", msg.EventType)
	}
	if msg.DonationAmount != "500 bits" {
		t.Errorf("donationAmount: %q", msg.DonationAmount)
	}
}

func TestSubgiftNotice(t *testing.T) {
	raw := "@id=x;msg-id=subgift;msg-param-sub-plan=1000;msg-param-months=3;display-name=gifter1;login=gifter1 :tmi.twitch.tv USERNOTICE #somechan"
	msg, ok := normalizeUsernotice(mustParse(t, raw), now)
	if !ok {
		t.Fatal("expected a message")
	}
	sub := msg.Subscription
	if sub == nil {
		t.Fatal("missing subscription payload")
	}
	if sub.Plan != "1000" {
		t.Errorf("plan: %q", sub.Plan)
	}
	if sub.Months != 3 {
		t.Errorf("months: %d", sub.Months)
	}
	if !sub.IsGift {
		t.Error("isGift not set")
	}
	if sub.Gifter != "gifter1" {
		t.Errorf("gifter: %q", sub.Gifter)
	}
	if msg.EventType != core.EventSubscription {
		t.Errorf("eventType: %q", msg.EventType)
	}
}

func TestSubscriptionFallbackText(t *testing.T) {
	raw := "@id=x;msg-id=sub;msg-param-sub-plan=Prime;display-name=NewSub :tmi.twitch.tv USERNOTICE #somechan"
	msg, ok := normalizeUsernotice(mustParse(t, raw), now)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Text != "NewSub subscribed!" {
		t.Errorf("fallback text: %q", msg.Text)
	}
}

func TestSystemMsgPreferredOverFallback(t *testing.T) {
	raw := `@id=x;msg-id=resub;msg-param-cumulative-months=12;system-msg=Sub\sresubscribed\sfor\s12\smonths!;display-name=Sub :tmi.twitch.tv USERNOTICE #somechan`
	msg, ok := normalizeUsernotice(mustParse(t, raw), now)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Text != "Sub resubscribed for 12 months!" {
		t.Errorf("system-msg text: %q", msg.Text)
	}
	if msg.Subscription.Months != 12 {
		t.Errorf("cumulative months: %d", msg.Subscription.Months)
	}
}

func TestUnknownNoticeDropped(t *testing.T) {
	raw := "@id=x;msg-id=raid;display-name=Raider :tmi.twitch.tv USERNOTICE #somechan :raid text"
	if _, ok := normalizeUsernotice(mustParse(t, raw), now); ok {
		t.Fatal("unrecognized msg-id must be dropped")
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"  abc123  ":      "abc123",
		"oauth:abc123":    "abc123",
		" oauth:abc123\n": "abc123",
		"":                "",
	}
	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeChannel(t *testing.T) {
	if got := NormalizeChannel(" #SomeChan "); got != "somechan" {
		t.Errorf("got %q", got)
	}
}
