package models

import "time"

// SyncItem carries one audiobook's best-known Audiobookshelf readings into a
// reconciliation call.
type SyncItem struct {
	ASIN           string    // Stable identifier shared by both services
	ShelfItemID    string    // Audiobookshelf library item id, empty if unresolved
	ShelfPositionS *float64  // Current shelf position in seconds, nil if unknown
	DurationS      float64   // Total duration in seconds, zero if unknown
	ShelfUpdatedAt time.Time // Shelf's own lastUpdate timestamp, zero if not supplied
}

// ProgressSnapshot is a single progress reading for one library item.
type ProgressSnapshot struct {
	PositionS float64
	DurationS float64
	UpdatedAt time.Time
}
