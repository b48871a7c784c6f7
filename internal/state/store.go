package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
)

// Store owns the SyncState aggregate and is its sole mutator. All access
// goes through the store's mutex, so the fast sync loop, the slow discovery
// loop, and the status server can share one instance.
//
// Persistence is a full snapshot: a save writes the whole aggregate to a
// temp file, fsyncs it, and atomically renames it over the target so a
// reader never observes a partial document. An advisory file lock guards
// against a second process interleaving writes; lock contention skips the
// save for this cycle rather than blocking. Any other write failure flips
// the store into a permanent read-only mode for the rest of the process
// lifetime instead of crash-looping on bad I/O.
type Store struct {
	mu sync.Mutex

	path     string
	persist  bool
	maxWatch int
	logger   *log.Logger

	readOnly bool
	state    *SyncState
}

// NewStore creates a Store for the snapshot file at path. maxWatch bounds
// the watchlist; persist=false turns Save into a no-op.
func NewStore(path string, persist bool, maxWatch int, logger *log.Logger) *Store {
	return &Store{
		path:     path,
		persist:  persist,
		maxWatch: maxWatch,
		logger:   logger,
		state:    NewSyncState(),
	}
}

// Load reads the snapshot from disk. A missing file starts fresh; a corrupt
// file is logged and abandoned in favor of an empty state. Startup never
// fails on bad state.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no state file found, starting fresh", "path", s.path)
		} else {
			s.logger.Error("failed to read state file, starting fresh", "path", s.path, "error", err)
		}
		return
	}

	loaded := NewSyncState()
	if err := json.Unmarshal(data, loaded); err != nil {
		s.logger.Error("failed to parse state file, starting fresh", "path", s.path, "error", err)
		return
	}

	if loaded.Items == nil {
		loaded.Items = map[string]*SyncStatus{}
	}
	s.state = loaded
	s.logger.Info("loaded state",
		"watchlist", len(loaded.Watchlist),
		"items", len(loaded.Items),
		"last_sync", loaded.LastSuccessfulSync)
}

// Save writes the current state as an atomic full snapshot. It is a no-op
// when persistence is disabled or the store has degraded to read-only. If
// another process holds the advisory lock the save is skipped for this
// cycle; it will be retried on the next one.
func (s *Store) Save() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.persist || s.readOnly {
		return
	}

	s.prune()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode state", "error", err)
		return
	}

	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		// Failing to open the lock file is a write failure, not contention;
		// it would otherwise recur every cycle.
		s.logger.Error("failed to acquire state lock, disabling persistence for this run", "path", s.path, "error", err)
		s.readOnly = true
		return
	}
	if !locked {
		s.logger.Warn("state lock held elsewhere, skipping save", "path", s.path)
		return
	}
	defer lock.Unlock()

	if err := s.writeSnapshot(data); err != nil {
		s.logger.Error("failed to save state, disabling persistence for this run", "path", s.path, "error", err)
		s.readOnly = true
	}
}

// writeSnapshot performs the temp-file + fsync + rename sequence.
func (s *Store) writeSnapshot(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// prune drops status entries whose ASIN has aged out of the watchlist, so
// the arena stays bounded by the watchlist rather than growing with every
// identifier ever seen. Caller holds the mutex.
func (s *Store) prune() {
	if len(s.state.Items) <= len(s.state.Watchlist) {
		return
	}
	watched := map[string]struct{}{}
	for _, id := range s.state.Watchlist {
		watched[id] = struct{}{}
	}
	for asin := range s.state.Items {
		if _, ok := watched[asin]; !ok {
			delete(s.state.Items, asin)
		}
	}
}

// Update runs fn against the SyncStatus for asin under the store lock,
// creating a zeroed status on first access. All multi-step read/modify
// logic (the reconciliation engine in particular) goes through here so it
// serializes against saves and against the other loop.
func (s *Store) Update(asin string, fn func(*SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.status(asin))
}

// Status returns a copy of the SyncStatus for asin, lazily creating a
// zeroed one if absent.
func (s *Store) Status(asin string) SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.status(asin)
}

// status is the lock-held lazy accessor.
func (s *Store) status(asin string) *SyncStatus {
	st, ok := s.state.Items[asin]
	if !ok {
		st = &SyncStatus{}
		s.state.Items[asin] = st
	}
	return st
}

// Touch records recency for the given ASINs on the watchlist, evicting from
// the head if the bound is exceeded.
func (s *Store) Touch(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Watchlist.Touch(ids, s.maxWatch)
}

// WatchlistSnapshot returns a copy of the current watchlist, oldest first.
func (s *Store) WatchlistSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.state.Watchlist))
	copy(out, s.state.Watchlist)
	return out
}

// MarkSyncPass records the completion time of a successful sync pass.
func (s *Store) MarkSyncPass(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastSuccessfulSync = t
}

// MarkDeepScan records the completion time of a deep library scan.
func (s *Store) MarkDeepScan(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastDeepScan = t
}

// MarkDiscovery records the completion time of a library discovery pass.
func (s *Store) MarkDiscovery(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastLibraryDiscovery = t
}

// LastSyncPass returns when the last successful sync pass finished.
func (s *Store) LastSyncPass() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastSuccessfulSync
}

// LastDeepScan returns when the last deep scan finished.
func (s *Store) LastDeepScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastDeepScan
}

// LastDiscovery returns when the last library discovery pass finished.
func (s *Store) LastDiscovery() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastLibraryDiscovery
}

// ReadOnly reports whether the store has degraded to memory-only mode.
func (s *Store) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// Summarize builds the read-only view used by the status endpoint.
func (s *Store) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		WatchlistSize:        len(s.state.Watchlist),
		TrackedItems:         len(s.state.Items),
		LastSuccessfulSync:   s.state.LastSuccessfulSync,
		LastDeepScan:         s.state.LastDeepScan,
		LastLibraryDiscovery: s.state.LastLibraryDiscovery,
		ReadOnly:             s.readOnly,
	}
}

// TrackedItems returns status copies for every tracked ASIN, watchlisted
// items first in recency order (most recent first), then any remaining
// items sorted by ASIN.
func (s *Store) TrackedItems() []TrackedItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TrackedItem, 0, len(s.state.Items))
	seen := map[string]struct{}{}

	for i := len(s.state.Watchlist) - 1; i >= 0; i-- {
		asin := s.state.Watchlist[i]
		if st, ok := s.state.Items[asin]; ok {
			out = append(out, TrackedItem{ASIN: asin, Status: *st})
			seen[asin] = struct{}{}
		}
	}

	var rest []string
	for asin := range s.state.Items {
		if _, ok := seen[asin]; !ok {
			rest = append(rest, asin)
		}
	}
	sort.Strings(rest)
	for _, asin := range rest {
		out = append(out, TrackedItem{ASIN: asin, Status: *s.state.Items[asin]})
	}

	return out
}
