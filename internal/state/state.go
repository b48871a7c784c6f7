// Package state holds the durable sync state shared by the fast and slow
// loops: the bounded watchlist, the per-item sync status arena, and the
// snapshot store that persists both.
package state

import "time"

// SyncStatus tracks the last observed positions and timestamps for one
// audiobook. It records just enough to detect change, not absolute truth:
// positions are updated the moment a change is judged so that small drifts
// do not re-trigger on the next pass.
//
// A zeroed SyncStatus is valid and means "never observed".
type SyncStatus struct {
	LastSeenAudibleMS int64   `json:"last_seen_audible_position_ms"`
	LastSeenShelfS    float64 `json:"last_seen_shelf_position_s"`

	AudibleChangedAt time.Time `json:"last_change_detected_audible_at"`
	ShelfChangedAt   time.Time `json:"last_change_detected_shelf_at"`

	// Cooldown anchors. Stamped when a push is attempted, not when it is
	// confirmed by the remote side.
	AudiblePushedAt time.Time `json:"last_pushed_to_audible_at"`
	ShelfPushedAt   time.Time `json:"last_pushed_to_shelf_at"`

	LastResult string `json:"last_sync_result,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`
}

// SyncState is the persisted aggregate: the watchlist, the per-ASIN status
// mapping, and the timestamps of the last successful pass of each periodic
// task. It is loaded wholesale at startup and written wholesale after each
// successful cycle.
type SyncState struct {
	Watchlist Watchlist              `json:"watchlist"`
	Items     map[string]*SyncStatus `json:"items"`

	LastLibraryDiscovery time.Time `json:"last_library_discovery"`
	LastDeepScan         time.Time `json:"last_deep_scan"`
	LastSuccessfulSync   time.Time `json:"last_successful_sync"`
}

// NewSyncState returns an empty aggregate with initialized containers.
func NewSyncState() *SyncState {
	return &SyncState{
		Watchlist: Watchlist{},
		Items:     map[string]*SyncStatus{},
	}
}

// TrackedItem pairs an ASIN with a copy of its status for read-only
// consumers (status endpoint, TUI).
type TrackedItem struct {
	ASIN   string
	Status SyncStatus
}

// Summary is the read-only view served by the status endpoint.
type Summary struct {
	WatchlistSize        int       `json:"watchlist_size"`
	TrackedItems         int       `json:"total_tracked_items"`
	LastSuccessfulSync   time.Time `json:"last_sync"`
	LastDeepScan         time.Time `json:"last_deep_scan"`
	LastLibraryDiscovery time.Time `json:"last_library_discovery"`
	ReadOnly             bool      `json:"read_only"`
}
