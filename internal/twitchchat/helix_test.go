package twitchchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/you/streamlink/internal/core"
)

func fakeHelix(t *testing.T, trainExpiry time.Time) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "cid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"viewer_count":123,"title":"live title","type":"live"}]}`))
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"42"}]}`))
	})
	mux.HandleFunc("/hypetrain/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != "42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"data":[{"id":"e1","event_data":{"id":"ht1","level":2,"goal":1000,"total":450,"progress":450,"expires_at":"` +
			trainExpiry.UTC().Format(time.RFC3339) + `"}}]}`))
	})
	return httptest.NewServer(mux)
}

func helixConfig(url string) Config {
	return Config{Channel: "somechan", ClientID: "cid", AccessToken: "tok", HelixURL: url}
}

func TestFetchViewers(t *testing.T) {
	srv := fakeHelix(t, time.Now().Add(time.Minute))
	defer srv.Close()

	var got core.StatsPatch
	p := newHelixPoller(helixConfig(srv.URL), Callbacks{
		OnStatsUpdate: func(patch core.StatsPatch) { got = patch },
	})
	p.fetchViewers(context.Background())

	if got.Viewers == nil || *got.Viewers != 123 {
		t.Fatalf("viewers: %v", got.Viewers)
	}
	if got.Title == nil || *got.Title != "live title" {
		t.Fatalf("title: %v", got.Title)
	}
}

func TestFetchHypeTrainTwoStep(t *testing.T) {
	expiry := time.Now().Add(3 * time.Minute)
	srv := fakeHelix(t, expiry)
	defer srv.Close()

	p := newHelixPoller(helixConfig(srv.URL), Callbacks{})
	train, err := p.fetchHypeTrain(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if train == nil {
		t.Fatal("expected an active train")
	}
	if train.ID != "ht1" || train.Level != 2 || train.Goal != 1000 || train.Total != 450 {
		t.Fatalf("train: %+v", train)
	}
	if !train.IsActive {
		t.Fatal("train should be active")
	}
	// The id lookup is cached after the first round trip.
	if p.broadcasterID != "42" {
		t.Fatalf("broadcaster id: %q", p.broadcasterID)
	}
}

func TestExpiredTrainReadsAsAbsent(t *testing.T) {
	srv := fakeHelix(t, time.Now().Add(-time.Minute))
	defer srv.Close()

	p := newHelixPoller(helixConfig(srv.URL), Callbacks{})
	train, err := p.fetchHypeTrain(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if train != nil {
		t.Fatalf("expired train should read as absent, got %+v", train)
	}
}

func TestForbiddenIsDistinguished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newHelixPoller(helixConfig(srv.URL), Callbacks{})
	_, err := p.fetchHypeTrain(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isStatus(err, http.StatusForbidden) {
		t.Fatalf("expected a 403 status error, got %v", err)
	}
}
