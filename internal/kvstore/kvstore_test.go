package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	if err := s.Set(ctx, "quota/units", "500"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "quota/units")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "500" {
		t.Fatalf("expected %q, got %q", "500", got)
	}

	if err := s.Set(ctx, "quota/units", "501"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "quota/units")
	if got != "501" {
		t.Fatalf("expected overwrite to win, got %q", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := open(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key gone, got %v", err)
	}
}

func TestWatchDeliversInitialAndChangedValues(t *testing.T) {
	s := open(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Set(ctx, "sync/featured", "one"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got := make(chan string, 8)
	if err := s.Watch(ctx, "sync/featured", func(value string, ok bool) {
		if ok {
			got <- value
		} else {
			got <- "<absent>"
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	select {
	case v := <-got:
		if v != "one" {
			t.Fatalf("expected initial value %q, got %q", "one", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial delivery")
	}

	// A second process writing the same path must surface here.
	other, err := Open(s.Path())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer other.Close()
	if err := other.Set(ctx, "sync/featured", "two"); err != nil {
		t.Fatalf("remote set: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-got:
			if v == "two" {
				return
			}
		case <-deadline:
			t.Fatal("change from second writer never observed")
		}
	}
}
