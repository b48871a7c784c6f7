// package repositories provides the persistence layer for the resolution
// cache: durable ASIN to Audiobookshelf item id mappings, so restarts do not
// repeat expensive library searches.
package repositories

import (
	"database/sql"
	"fmt"
	"time"
)

// Resolution is one persisted ASIN to library item id mapping.
type Resolution struct {
	ASIN        string
	ShelfItemID string
	ResolvedAt  time.Time
}

// ResolutionRepository persists resolutions in SQLite.
type ResolutionRepository struct {
	db *sql.DB
}

// NewResolutionRepository creates a repository over an open database. The
// schema must already be migrated.
func NewResolutionRepository(db *sql.DB) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

// GetByASIN fetches the resolution for an ASIN. Returns (nil, nil) when none
// is stored.
func (r *ResolutionRepository) GetByASIN(asin string) (*Resolution, error) {
	row := r.db.QueryRow(
		"SELECT asin, shelf_item_id, resolved_at FROM resolutions WHERE asin = ?", asin)

	var res Resolution
	var resolvedAt string
	if err := row.Scan(&res.ASIN, &res.ShelfItemID, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resolution for %s: %w", asin, err)
	}

	if t, err := time.Parse(time.RFC3339, resolvedAt); err == nil {
		res.ResolvedAt = t
	}
	return &res, nil
}

// Save stores a resolution, replacing any existing mapping for the ASIN.
func (r *ResolutionRepository) Save(asin, shelfItemID string) error {
	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO resolutions (asin, shelf_item_id, resolved_at) VALUES (?, ?, ?)",
		asin, shelfItemID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save resolution for %s: %w", asin, err)
	}
	return nil
}

// Delete removes the resolution for an ASIN. Deleting a missing row is not
// an error.
func (r *ResolutionRepository) Delete(asin string) error {
	if _, err := r.db.Exec("DELETE FROM resolutions WHERE asin = ?", asin); err != nil {
		return fmt.Errorf("failed to delete resolution for %s: %w", asin, err)
	}
	return nil
}

// Count returns the number of stored resolutions.
func (r *ResolutionRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM resolutions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count resolutions: %w", err)
	}
	return n, nil
}
