package ytchat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	youtube "google.golang.org/api/youtube/v3"

	"github.com/you/streamlink/internal/core"
)

func TestNormalizeChatItem(t *testing.T) {
	item := &youtube.LiveChatMessage{
		Id: "yt1",
		Snippet: &youtube.LiveChatMessageSnippet{
			DisplayMessage: "hello",
			PublishedAt:    "2025-04-01T12:00:00Z",
		},
		AuthorDetails: &youtube.LiveChatMessageAuthorDetails{
			DisplayName:     "Watcher",
			ProfileImageUrl: "https://example.com/a.png",
		},
	}
	msg, ok := normalizeItem(item)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.ID != "yt1" || msg.Author != "Watcher" || msg.Text != "hello" {
		t.Fatalf("message: %+v", msg)
	}
	if msg.Platform != core.PlatformYouTube {
		t.Errorf("platform: %q", msg.Platform)
	}
	if msg.AuthorColor != defaultAuthorColor {
		t.Errorf("color: %q", msg.AuthorColor)
	}
	if want := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC); !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp: %v", msg.Timestamp)
	}
}

func TestNormalizeEmptyChatDropped(t *testing.T) {
	item := &youtube.LiveChatMessage{
		Id:            "yt2",
		Snippet:       &youtube.LiveChatMessageSnippet{},
		AuthorDetails: &youtube.LiveChatMessageAuthorDetails{DisplayName: "Watcher"},
	}
	if _, ok := normalizeItem(item); ok {
		t.Fatal("empty chat text must be dropped")
	}
}

func TestNormalizeSuperChat(t *testing.T) {
	item := &youtube.LiveChatMessage{
		Id: "yt3",
		Snippet: &youtube.LiveChatMessageSnippet{
			SuperChatDetails: &youtube.LiveChatSuperChatDetails{
				AmountDisplayString: "$5.00",
				UserComment:         "great stream",
			},
		},
		AuthorDetails: &youtube.LiveChatMessageAuthorDetails{DisplayName: "Fan"},
	}
	msg, ok := normalizeItem(item)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.EventType != core.EventDonation {
		t.Errorf("eventType: %q", msg.EventType)
	}
	if msg.DonationAmount != "$5.00" {
		t.Errorf("amount: %q", msg.DonationAmount)
	}
	if msg.Text != "great stream" {
		t.Errorf("text: %q", msg.Text)
	}
}

func TestNormalizeSuperSticker(t *testing.T) {
	item := &youtube.LiveChatMessage{
		Id: "yt4",
		Snippet: &youtube.LiveChatMessageSnippet{
			SuperStickerDetails: &youtube.LiveChatSuperStickerDetails{
				AmountDisplayString: "200 CZK",
			},
		},
		AuthorDetails: &youtube.LiveChatMessageAuthorDetails{DisplayName: "Fan"},
	}
	msg, ok := normalizeItem(item)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.EventType != core.EventDonation || msg.DonationAmount != "200 CZK" {
		t.Fatalf("message: %+v", msg)
	}
	if msg.Text != "Fan sent a Super Sticker" {
		t.Errorf("synthesized caption: %q", msg.Text)
	}
}

func TestMissingConfigIsImmediateError(t *testing.T) {
	var last core.Status
	var lastErr string
	c := New(Config{}, Callbacks{
		OnStatusChange: func(s core.Status, e string) { last, lastErr = s, e },
	})
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if last != core.StatusError || lastErr == "" {
		t.Fatalf("status %q, err %q", last, lastErr)
	}
}

func fakeAPI(t *testing.T, videos, messages http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/videos", videos)
	mux.HandleFunc("/youtube/v3/liveChat/messages", messages)
	return httptest.NewServer(mux)
}

func TestConnectAndPoll(t *testing.T) {
	var quota atomic.Int64
	srv := fakeAPI(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"items":[{"snippet":{"title":"stream title"},"liveStreamingDetails":{"activeLiveChatId":"chat1"}}]}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("liveChatId") != "chat1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"nextPageToken":"tok2","pollingIntervalMillis":500,"items":[
				{"id":"m1","snippet":{"displayMessage":"hi","publishedAt":"2025-04-01T12:00:00Z"},"authorDetails":{"displayName":"A"}}
			]}`))
		})
	defer srv.Close()

	got := make(chan core.ChatMessage, 4)
	c := New(Config{APIKey: "k", VideoID: "dQw4w9WgXcQ", Endpoint: srv.URL + "/"}, Callbacks{
		OnMessage:     func(m core.ChatMessage) { got <- m },
		OnQuotaUpdate: func(units int) { quota.Add(int64(units)) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case m := <-got:
		if m.ID != "m1" {
			t.Fatalf("message id: %q", m.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
	if quota.Load() < 2 {
		t.Fatalf("expected at least 2 quota units (resolve + poll), got %d", quota.Load())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNoActiveChatIsTerminal(t *testing.T) {
	srv := fakeAPI(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"items":[{"snippet":{"title":"vod"}}]}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("message poll must not run without a chat id")
		})
	defer srv.Close()

	var lastErr string
	c := New(Config{APIKey: "k", VideoID: "dQw4w9WgXcQ", Endpoint: srv.URL + "/"}, Callbacks{
		OnStatusChange: func(_ core.Status, e string) {
			if e != "" {
				lastErr = e
			}
		},
	})
	err := c.Run(context.Background())
	if !errors.Is(err, ErrNoActiveChat) {
		t.Fatalf("expected ErrNoActiveChat, got %v", err)
	}
	if lastErr != "No active live chat found" {
		t.Fatalf("operator message: %q", lastErr)
	}
}

func TestQuotaExceededStopsPolling(t *testing.T) {
	var polls atomic.Int64
	srv := fakeAPI(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"items":[{"liveStreamingDetails":{"activeLiveChatId":"chat1"}}]}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			polls.Add(1)
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"code":403,"message":"quotaExceeded"}}`))
		})
	defer srv.Close()

	c := New(Config{APIKey: "k", VideoID: "dQw4w9WgXcQ", Endpoint: srv.URL + "/"}, Callbacks{})
	err := c.Run(context.Background())
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if polls.Load() != 1 {
		t.Fatalf("polling must stop after 403, saw %d polls", polls.Load())
	}
}

func TestPauseBlocksPolling(t *testing.T) {
	g := &pauseGate{}
	g.pause()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.wait(ctx); err == nil {
		t.Fatal("wait should block while paused")
	}

	g.pause()
	go func() {
		time.Sleep(10 * time.Millisecond)
		g.resume()
	}()
	if err := g.wait(context.Background()); err != nil {
		t.Fatalf("wait after resume: %v", err)
	}
}
