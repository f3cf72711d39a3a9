// Package quota tracks YouTube Data API unit consumption against the
// daily allowance, which resets at midnight Pacific time.
package quota

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/streamlink/internal/kvstore"
)

const (
	keyUnits     = "quota/units"
	keyResetDate = "quota/reset_date"
)

// DailyLimit is the default per-project allowance for the YouTube Data API.
const DailyLimit = 10000

var pacific *time.Location

func init() {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		// Zone data missing from the host. Fall back to a fixed offset so
		// the tracker still rolls over roughly once a day.
		loc = time.FixedZone("PST", -8*3600)
	}
	pacific = loc
}

// Tracker persists quota usage through the shared store so both the
// dashboard and the overlay report the same number across restarts.
type Tracker struct {
	mu    sync.Mutex
	store *kvstore.Store
	clock func() time.Time
}

func New(store *kvstore.Store) *Tracker {
	return &Tracker{store: store, clock: time.Now}
}

// SetClock replaces the time source. Tests only.
func (t *Tracker) SetClock(fn func() time.Time) {
	t.mu.Lock()
	t.clock = fn
	t.mu.Unlock()
}

func dateString(now time.Time) string {
	return now.In(pacific).Format("2006-01-02")
}

// rollover zeroes the counter when the stored reset date is not today's
// Pacific date. Callers hold t.mu.
func (t *Tracker) rollover(ctx context.Context) error {
	today := dateString(t.clock())
	stored, err := t.store.Get(ctx, keyResetDate)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return errors.Wrap(err, "quota: read reset date")
	}
	if stored == today {
		return nil
	}
	if err := t.store.Set(ctx, keyUnits, "0"); err != nil {
		return errors.Wrap(err, "quota: reset units")
	}
	if err := t.store.Set(ctx, keyResetDate, today); err != nil {
		return errors.Wrap(err, "quota: store reset date")
	}
	return nil
}

func (t *Tracker) readUnits(ctx context.Context) (int, error) {
	raw, err := t.store.Get(ctx, keyUnits)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "quota: read units")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Usage returns units consumed so far today.
func (t *Tracker) Usage(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.rollover(ctx); err != nil {
		return 0, err
	}
	return t.readUnits(ctx)
}

// Add records units consumed and returns the new total.
func (t *Tracker) Add(ctx context.Context, units int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.rollover(ctx); err != nil {
		return 0, err
	}
	n, err := t.readUnits(ctx)
	if err != nil {
		return 0, err
	}
	n += units
	if err := t.store.Set(ctx, keyUnits, strconv.Itoa(n)); err != nil {
		return 0, errors.Wrap(err, "quota: store units")
	}
	return n, nil
}

// SetManual overrides the counter, for operators correcting drift when
// other tooling shares the same API project.
func (t *Tracker) SetManual(ctx context.Context, units int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if units < 0 {
		units = 0
	}
	if err := t.store.Set(ctx, keyUnits, strconv.Itoa(units)); err != nil {
		return errors.Wrap(err, "quota: store units")
	}
	if err := t.store.Set(ctx, keyResetDate, dateString(t.clock())); err != nil {
		return errors.Wrap(err, "quota: store reset date")
	}
	return nil
}
