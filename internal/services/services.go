// package services defines the client interfaces for the two position
// authorities: Audible (positions in milliseconds) and Audiobookshelf
// (positions in seconds).
package services

import (
	"context"
	"time"

	"github.com/desertthunder/abx/internal/models"
)

// AudibleService is the Audible side of the sync. All positions cross this
// boundary in milliseconds.
type AudibleService interface {
	// Initialize loads credentials and verifies them against the API.
	// A failed initialization leaves the service in a not-ready state
	// where reads return empty results and writes are no-ops.
	Initialize(ctx context.Context) error

	// Ready reports whether initialization succeeded.
	Ready() bool

	// LastPositions fetches the last heard position for each ASIN,
	// batched per the configured batch size. ASINs with no recorded
	// position are absent from the result. A failed batch is skipped,
	// not fatal.
	LastPositions(ctx context.Context, asins []string) (map[string]int64, error)

	// UpdatePosition pushes a new last-heard position for one ASIN.
	UpdatePosition(ctx context.Context, asin string, positionMS int64) error

	// RecentlyPlayed returns the ASINs of the most recently accessed
	// library items, most recent first.
	RecentlyPlayed(ctx context.Context, limit int) ([]string, error)

	// NewlyPurchased returns ASINs of library items purchased after the
	// given time.
	NewlyPurchased(ctx context.Context, since time.Time) ([]string, error)

	// DeepScanInProgress pages through the whole library and returns the
	// ASINs of every item partially complete (0% < done < 100%).
	DeepScanInProgress(ctx context.Context) ([]string, error)

	// SetDryRun toggles write suppression. Reads are unaffected.
	SetDryRun(enabled bool)
}

// ShelfService is the Audiobookshelf side of the sync. All positions cross
// this boundary in seconds.
type ShelfService interface {
	// Initialize verifies connectivity and resolves the acting user.
	Initialize(ctx context.Context) error

	// InProgress returns every item with recorded media progress for the
	// acting user, keyed by ASIN. Items without an ASIN are skipped.
	InProgress(ctx context.Context) (map[string]models.SyncItem, error)

	// UpdateProgress pushes a new playback position for a library item.
	UpdateProgress(ctx context.Context, itemID string, positionS float64) error

	// ItemProgress fetches the progress record for one library item.
	// Returns (nil, nil) when the server has no progress for it.
	ItemProgress(ctx context.Context, itemID string) (*models.ProgressSnapshot, error)

	// Libraries returns the library ids in scope, honoring a configured
	// library restriction.
	Libraries(ctx context.Context) ([]string, error)

	// LookupItem resolves an ASIN to a library item id via library
	// search. Returns "" with a nil error when no item matches.
	LookupItem(ctx context.Context, asin string) (string, error)

	// SetDryRun toggles write suppression. Reads are unaffected.
	SetDryRun(enabled bool)
}

// ResolutionCache persists ASIN to library item id resolutions across runs
// so restart does not repeat expensive library searches.
type ResolutionCache interface {
	Get(asin string) (itemID string, ok bool)
	Put(asin, itemID string)
}
