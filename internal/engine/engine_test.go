package engine

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/models"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
)

// memStore is an in-memory StatusStore for exercising the engine without a
// snapshot file.
type memStore struct {
	items map[string]*state.SyncStatus
}

func newMemStore() *memStore {
	return &memStore{items: map[string]*state.SyncStatus{}}
}

func (m *memStore) Update(asin string, fn func(*state.SyncStatus)) {
	st, ok := m.items[asin]
	if !ok {
		st = &state.SyncStatus{}
		m.items[asin] = st
	}
	fn(st)
}

func testEngine(store StatusStore, cfg Config) *Engine {
	return New(store, cfg, log.New(io.Discard))
}

func defaultConfig() Config {
	return Config{
		ToleranceS:        5,
		CooldownS:         60,
		ConflictMinDeltaS: 30,
		Mode:              shared.ModeBidirectional,
	}
}

func ms(v int64) *int64      { return &v }
func sec(v float64) *float64 { return &v }

func item(asin string) models.SyncItem {
	return models.SyncItem{ASIN: asin, ShelfItemID: "li_" + asin}
}

func TestReconcileNoChange(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	store.Update("B001", func(st *state.SyncStatus) {
		st.LastSeenAudibleMS = 100_000
		st.LastSeenShelfS = 100
	})

	// Both sides within tolerance of last seen.
	a, sh := e.Reconcile(item("B001"), ms(102_000), sec(103))
	if a != nil || sh != nil {
		t.Fatalf("expected no pushes, got audible=%v shelf=%v", a, sh)
	}

	st := store.items["B001"]
	if st.LastSeenAudibleMS != 100_000 || st.LastSeenShelfS != 100 {
		t.Errorf("last seen moved without a detected change: %+v", st)
	}
}

func TestReconcileAudibleChangedPushesShelf(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	a, sh := e.Reconcile(item("B001"), ms(600_000), sec(100))
	if a != nil {
		t.Fatalf("unexpected audible push: %v", *a)
	}
	if sh == nil || *sh != 600 {
		t.Fatalf("expected shelf push of 600s, got %v", sh)
	}

	st := store.items["B001"]
	if st.LastSeenAudibleMS != 600_000 {
		t.Errorf("last seen audible = %d, want 600000", st.LastSeenAudibleMS)
	}
	if !st.AudiblePushedAt.IsZero() {
		t.Error("shelf push must not stamp the audible cooldown anchor")
	}
	if st.ShelfPushedAt.IsZero() {
		t.Error("shelf push should stamp the shelf cooldown anchor")
	}
}

func TestReconcileShelfChangedPushesAudible(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	store.Update("B001", func(st *state.SyncStatus) {
		st.LastSeenAudibleMS = 100_000
		st.LastSeenShelfS = 100
	})

	a, sh := e.Reconcile(item("B001"), ms(101_000), sec(450))
	if sh != nil {
		t.Fatalf("unexpected shelf push: %v", *sh)
	}
	if a == nil || *a != 450_000 {
		t.Fatalf("expected audible push of 450000ms, got %v", a)
	}
}

func TestReconcileUnknownDestinationSkipsPush(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	// Audible moved but the shelf position is unknown: nothing to push, yet
	// the change must still be absorbed into last seen.
	a, sh := e.Reconcile(item("B001"), ms(600_000), nil)
	if a != nil || sh != nil {
		t.Fatalf("expected no pushes, got audible=%v shelf=%v", a, sh)
	}
	if got := store.items["B001"].LastSeenAudibleMS; got != 600_000 {
		t.Errorf("last seen audible = %d, want 600000", got)
	}

	// Shelf moved but audible is unknown.
	a, sh = e.Reconcile(models.SyncItem{ASIN: "B002"}, nil, sec(450))
	if a != nil || sh != nil {
		t.Fatalf("expected no pushes, got audible=%v shelf=%v", a, sh)
	}
	if got := store.items["B002"].LastSeenShelfS; got != 450 {
		t.Errorf("last seen shelf = %v, want 450", got)
	}
}

func TestReconcileConflictNewerTimestampWins(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	// Shelf reported its change 100s before our observation; the audible
	// change is detected now. Gap exceeds the 30s minimum, audible wins even
	// though the shelf is further ahead.
	it := item("B001")
	it.ShelfUpdatedAt = now.Add(-100 * time.Second)

	a, sh := e.Reconcile(it, ms(600_000), sec(900))
	if a != nil {
		t.Fatalf("unexpected audible push: %v", *a)
	}
	if sh == nil || *sh != 600 {
		t.Fatalf("expected shelf push of 600s, got %v", sh)
	}
}

func TestReconcileConflictShelfNewerWins(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	it := item("B001")
	it.ShelfUpdatedAt = now.Add(100 * time.Second)

	a, sh := e.Reconcile(it, ms(900_000), sec(600))
	if sh != nil {
		t.Fatalf("unexpected shelf push: %v", *sh)
	}
	if a == nil || *a != 600_000 {
		t.Fatalf("expected audible push of 600000ms, got %v", a)
	}
}

func TestReconcileConflictCloseTimestampsFurthestWins(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	// Both changes detected at the same instant: distance decides.
	a, sh := e.Reconcile(item("B001"), ms(900_000), sec(600))
	if a != nil {
		t.Fatalf("unexpected audible push: %v", *a)
	}
	if sh == nil || *sh != 900 {
		t.Fatalf("expected shelf push of 900s, got %v", sh)
	}

	// Equal positions after unit conversion: shelf wins the tie.
	a, sh = e.Reconcile(item("B002"), ms(600_000), sec(600))
	if sh != nil {
		t.Fatalf("unexpected shelf push: %v", *sh)
	}
	if a == nil || *a != 600_000 {
		t.Fatalf("expected audible push of 600000ms, got %v", a)
	}
}

func TestReconcileCooldownSuppressesSmallPush(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	store.Update("B001", func(st *state.SyncStatus) {
		st.LastSeenAudibleMS = 100_000
		st.LastSeenShelfS = 100
		st.ShelfPushedAt = now.Add(-10 * time.Second)
	})

	a, sh := e.Reconcile(item("B001"), ms(150_000), sec(100))
	if a != nil || sh != nil {
		t.Fatalf("expected suppression, got audible=%v shelf=%v", a, sh)
	}

	// The cooldown anchor must not advance on a suppressed push.
	if got := store.items["B001"].ShelfPushedAt; !got.Equal(now.Add(-10 * time.Second)) {
		t.Errorf("cooldown anchor moved on suppressed push: %v", got)
	}
	// But change absorption already happened.
	if got := store.items["B001"].LastSeenAudibleMS; got != 150_000 {
		t.Errorf("last seen audible = %d, want 150000", got)
	}
}

func TestReconcileBigChangeOverridesCooldown(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	store.Update("B001", func(st *state.SyncStatus) {
		st.LastSeenAudibleMS = 100_000
		st.LastSeenShelfS = 100
		st.ShelfPushedAt = now.Add(-10 * time.Second)
	})

	// A jump of 500s dwarfs the 300s big-change threshold.
	_, sh := e.Reconcile(item("B001"), ms(600_000), sec(100))
	if sh == nil || *sh != 600 {
		t.Fatalf("expected shelf push of 600s despite cooldown, got %v", sh)
	}
	if got := store.items["B001"].ShelfPushedAt; !got.Equal(now) {
		t.Errorf("cooldown anchor = %v, want %v", got, now)
	}
}

func TestReconcileOneWayModes(t *testing.T) {
	t.Run("audible to shelf ignores shelf changes", func(t *testing.T) {
		store := newMemStore()
		cfg := defaultConfig()
		cfg.Mode = shared.ModeAudibleToShelf
		e := testEngine(store, cfg)

		a, sh := e.Reconcile(item("B001"), ms(1_000), sec(450))
		if a != nil || sh != nil {
			t.Fatalf("shelf-only change must not push in audible->shelf mode, got audible=%v shelf=%v", a, sh)
		}

		a, sh = e.Reconcile(item("B001"), ms(600_000), sec(450))
		if a != nil {
			t.Fatalf("unexpected audible push: %v", *a)
		}
		if sh == nil || *sh != 600 {
			t.Fatalf("expected shelf push of 600s, got %v", sh)
		}
	})

	t.Run("shelf to audible ignores audible changes", func(t *testing.T) {
		store := newMemStore()
		cfg := defaultConfig()
		cfg.Mode = shared.ModeShelfToAudible
		e := testEngine(store, cfg)

		a, sh := e.Reconcile(item("B001"), ms(600_000), sec(1))
		if a != nil || sh != nil {
			t.Fatalf("audible-only change must not push in shelf->audible mode, got audible=%v shelf=%v", a, sh)
		}

		a, sh = e.Reconcile(item("B001"), ms(600_000), sec(450))
		if sh != nil {
			t.Fatalf("unexpected shelf push: %v", *sh)
		}
		if a == nil || *a != 450_000 {
			t.Fatalf("expected audible push of 450000ms, got %v", a)
		}
	})
}

func TestReconcileShelfTimestampFromItem(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	it := item("B001")
	it.ShelfUpdatedAt = now.Add(-45 * time.Minute)

	e.Reconcile(it, nil, sec(450))

	if got := store.items["B001"].ShelfChangedAt; !got.Equal(it.ShelfUpdatedAt) {
		t.Errorf("shelf change time = %v, want %v", got, it.ShelfUpdatedAt)
	}
}

func TestMarkSynced(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	e.MarkSynced("B001", ms(600_000), nil)
	st := store.items["B001"]
	if st.LastSeenAudibleMS != 600_000 {
		t.Errorf("last seen audible = %d, want 600000", st.LastSeenAudibleMS)
	}
	if st.LastResult != "ok" {
		t.Errorf("last result = %q, want ok", st.LastResult)
	}

	e.MarkSynced("B001", nil, sec(450))
	if st.LastSeenShelfS != 450 {
		t.Errorf("last seen shelf = %v, want 450", st.LastSeenShelfS)
	}
}

func TestMarkFailed(t *testing.T) {
	store := newMemStore()
	e := testEngine(store, defaultConfig())

	e.MarkFailed("B001", "push to shelf failed")
	e.MarkFailed("B001", "push to shelf failed")

	st := store.items["B001"]
	if st.ErrorCount != 2 {
		t.Errorf("error count = %d, want 2", st.ErrorCount)
	}
	if st.LastResult != "push to shelf failed" {
		t.Errorf("last result = %q", st.LastResult)
	}
}
