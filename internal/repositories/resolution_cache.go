package repositories

import (
	"github.com/charmbracelet/log"
)

// ResolutionCacheAdapter implements services.ResolutionCache on top of
// ResolutionRepository.
//
// Cache failures are logged and swallowed: a broken cache database degrades
// to uncached library searches, it never fails a sync pass.
type ResolutionCacheAdapter struct {
	repo   *ResolutionRepository
	logger *log.Logger
}

// NewResolutionCacheAdapter creates an adapter over repo.
func NewResolutionCacheAdapter(repo *ResolutionRepository, logger *log.Logger) *ResolutionCacheAdapter {
	return &ResolutionCacheAdapter{repo: repo, logger: logger}
}

// Get fetches a cached resolution.
func (a *ResolutionCacheAdapter) Get(asin string) (string, bool) {
	res, err := a.repo.GetByASIN(asin)
	if err != nil {
		a.logger.Warn("resolution cache read failed", "asin", asin, "error", err)
		return "", false
	}
	if res == nil {
		return "", false
	}
	return res.ShelfItemID, true
}

// Put stores a resolution.
func (a *ResolutionCacheAdapter) Put(asin, itemID string) {
	if err := a.repo.Save(asin, itemID); err != nil {
		a.logger.Warn("resolution cache write failed", "asin", asin, "error", err)
	}
}
