package kvstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const watchDebounce = 250 * time.Millisecond

// Watch observes the backing database file for writes from other processes
// and invokes onChange with the value at key whenever it differs from the
// last observed one. ok is false when the key is absent. The initial value
// is delivered once before any file event. Watch returns after watcher
// setup; observation runs until ctx is cancelled.
//
// SQLite in WAL mode touches sibling -wal/-shm files on commit, so the
// containing directory is watched and events are filtered by path prefix.
func (s *Store) Watch(ctx context.Context, key string, onChange func(value string, ok bool)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	prefix := s.path

	go func() {
		defer w.Close()

		var (
			last     string
			lastOK   bool
			haveSeen bool
		)

		deliver := func() {
			value, err := s.Get(ctx, key)
			ok := err == nil
			if err != nil && !errors.Is(err, ErrNotFound) {
				slog.Error("kv watch read", "key", key, "err", err)
				return
			}
			if haveSeen && value == last && ok == lastOK {
				return
			}
			last, lastOK, haveSeen = value, ok, true
			onChange(value, ok)
		}

		deliver()

		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(ev.Name, prefix) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("kv watch", "err", err)
			case <-debounce.C:
				deliver()
			}
		}
	}()

	return nil
}
