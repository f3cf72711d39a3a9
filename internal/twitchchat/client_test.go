package twitchchat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/streamlink/internal/core"
)

func TestHandshakeOrderAndDelivery(t *testing.T) {
	sent := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		for i := 0; i < 4; i++ {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			sent <- string(data)
		}

		if err := c.Write(ctx, websocket.MessageText, []byte("PING :tmi.twitch.tv")); err != nil {
			return
		}
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		sent <- string(data)

		frame := "@id=a1;display-name=A :a!a@a.tmi.twitch.tv PRIVMSG #somechan :first\r\n" +
			"@id=a2;display-name=B :b!b@b.tmi.twitch.tv PRIVMSG #somechan :second\r\n"
		if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			return
		}
		<-ctx.Done()
	}))
	defer srv.Close()

	got := make(chan core.ChatMessage, 4)
	client := New(Config{Channel: "SomeChan", URL: srv.URL}, Callbacks{
		OnMessage: func(m core.ChatMessage) { got <- m },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	expect := func(prefix string) {
		t.Helper()
		select {
		case line := <-sent:
			if !strings.HasPrefix(line, prefix) {
				t.Fatalf("expected line starting %q, got %q", prefix, line)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %q", prefix)
		}
	}
	// Handshake order is fixed: credentials, nickname, capabilities, join.
	expect("PASS ")
	expect("NICK justinfan")
	expect("CAP REQ :twitch.tv/tags twitch.tv/commands")
	expect("JOIN #somechan")
	expect("PONG")

	for _, wantID := range []string{"a1", "a2"} {
		select {
		case m := <-got:
			if m.ID != wantID {
				t.Fatalf("expected message %q, got %q", wantID, m.ID)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %q", wantID)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAuthenticatedHandshakeUsesToken(t *testing.T) {
	sent := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for i := 0; i < 2; i++ {
			_, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			sent <- string(data)
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := New(Config{
		Channel:     "somechan",
		AccessToken: "oauth:secrettoken",
		ClientID:    "cid",
		URL:         srv.URL,
		HelixURL:    srv.URL, // not exercised before cancel
	}, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	select {
	case line := <-sent:
		if line != "PASS oauth:secrettoken" {
			t.Fatalf("PASS line: %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no PASS line")
	}
	select {
	case line := <-sent:
		if line != "NICK somechan" {
			t.Fatalf("NICK line: %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no NICK line")
	}
}

func TestBackoffScheduleAndTerminalError(t *testing.T) {
	var sleeps []time.Duration
	var statuses []core.Status

	client := New(Config{Channel: "somechan", URL: "ws://127.0.0.1:1"}, Callbacks{
		OnStatusChange: func(s core.Status, _ string) { statuses = append(statuses, s) },
	})
	client.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	err := client.Run(context.Background())
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}

	// Ten retries are scheduled; the eleventh failed attempt is terminal.
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
		60 * time.Second, 60 * time.Second,
	}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %d: %v", len(want), len(sleeps), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}

	if len(statuses) == 0 || statuses[len(statuses)-1] != core.StatusError {
		t.Fatalf("expected terminal error status, got %v", statuses)
	}
}

func TestSuccessfulOpenResetsReconnectBudget(t *testing.T) {
	// Every session completes the handshake, then the server drops the
	// connection abnormally. Each open resets the budget, so the client
	// must never run out of attempts no matter how many sessions fail.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for i := 0; i < 4; i++ {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
		c.CloseNow()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	client := New(Config{Channel: "somechan", URL: srv.URL}, Callbacks{})
	client.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) >= maxAttempts+5 {
			cancel()
		}
		return nil
	}

	err := client.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled after %d dropped sessions, got %v", len(sleeps), err)
	}
	for i, d := range sleeps {
		if d != initialBackoff {
			t.Fatalf("sleep %d: expected the backoff to stay at %v across opens, got %v", i, initialBackoff, d)
		}
	}
}

func TestHelixPollerStopsWithClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := New(Config{
		Channel:     "somechan",
		ClientID:    "cid",
		AccessToken: "tok",
		URL:         "ws://127.0.0.1:1",
		HelixURL:    srv.URL,
	}, Callbacks{})
	client.sleep = func(context.Context, time.Duration) error { return nil }

	if err := client.Run(context.Background()); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	select {
	case <-client.helix.done:
	case <-time.After(3 * time.Second):
		t.Fatal("helix poller kept running after Run returned")
	}
}

func TestMissingChannelIsImmediateError(t *testing.T) {
	var last core.Status
	client := New(Config{}, Callbacks{
		OnStatusChange: func(s core.Status, _ string) { last = s },
	})
	if err := client.Run(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if last != core.StatusError {
		t.Fatalf("expected error status, got %q", last)
	}
}
