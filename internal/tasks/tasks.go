package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/engine"
	"github.com/desertthunder/abx/internal/models"
	"github.com/desertthunder/abx/internal/services"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PassResult summarizes one sync pass.
type PassResult struct {
	Candidates    int `json:"candidates"`
	Reconciled    int `json:"reconciled"`
	PushedAudible int `json:"pushed_audible"`
	PushedShelf   int `json:"pushed_shelf"`
	Errors        int `json:"errors"`
}

// Syncer runs the fast loop: candidate gathering, position fetching, and
// per-item reconciliation.
type Syncer struct {
	store   *state.Store
	engine  *engine.Engine
	audible services.AudibleService
	shelf   services.ShelfService
	logger  *log.Logger
	metrics *Metrics

	recentLimit int
	workers     int
	limiter     *rate.Limiter
}

// NewSyncer wires a Syncer. metrics may be nil when nothing scrapes them.
func NewSyncer(store *state.Store, eng *engine.Engine, audible services.AudibleService, shelf services.ShelfService, recentLimit int, logger *log.Logger, metrics *Metrics) *Syncer {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Syncer{
		store:       store,
		engine:      eng,
		audible:     audible,
		shelf:       shelf,
		logger:      logger,
		metrics:     metrics,
		recentLimit: recentLimit,
		workers:     4,
		// Shelf lookups for unresolved candidates hit the search endpoint,
		// which is the most expensive call the pass makes.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (s *Syncer) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// RunPass executes one sync pass: gather candidates, fetch both sides,
// reconcile serially, push, persist. Per-item failures are counted, not
// fatal; the pass only errors when it cannot make progress at all.
func (s *Syncer) RunPass(ctx context.Context, progress chan<- ProgressUpdate) (*PassResult, error) {
	started := time.Now()
	result := &PassResult{}
	passID := shared.GenerateID()

	s.logger.Debug("sync pass starting", "pass", passID)

	s.sendProgress(progress, fetchShelfUpdate())
	shelfItems, err := s.shelf.InProgress(ctx)
	if err != nil {
		s.logger.Error("failed to fetch shelf in-progress items", "error", err)
		shelfItems = map[string]models.SyncItem{}
		result.Errors++
	}

	s.sendProgress(progress, fetchRecentUpdate())
	recent, err := s.audible.RecentlyPlayed(ctx, s.recentLimit)
	if err != nil {
		s.logger.Error("failed to fetch recently played", "error", err)
		result.Errors++
	}

	// Active items refresh their watchlist recency before the candidate
	// set is read back out.
	var active []string
	for asin := range shelfItems {
		active = append(active, asin)
	}
	active = append(active, recent...)
	s.store.Touch(active...)

	candidates := s.candidateSet(shelfItems, recent)
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		s.logger.Debug("no candidates to sync")
		s.store.MarkSyncPass(time.Now())
		s.store.Save()
		s.finishPass(passID, started, result)
		return result, nil
	}
	s.logger.Info("syncing candidates", "count", len(candidates))

	s.sendProgress(progress, fetchPositionsUpdate(len(candidates)))
	audiblePositions, err := s.audible.LastPositions(ctx, candidates)
	if err != nil {
		s.metricsPassError()
		return result, fmt.Errorf("fetching audible positions: %w", err)
	}

	items := s.gatherShelfReadings(ctx, candidates, shelfItems)

	for i, asin := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.sendProgress(progress, reconcileUpdate(i+1, len(candidates), asin))

		item, ok := items[asin]
		if !ok {
			// Unresolvable on the shelf side: nothing to reconcile against.
			continue
		}

		var audibleMS *int64
		if pos, ok := audiblePositions[asin]; ok {
			audibleMS = &pos
		}

		pushAudible, pushShelf := s.engine.Reconcile(item, audibleMS, item.ShelfPositionS)
		result.Reconciled++

		if pushAudible != nil {
			s.sendProgress(progress, pushUpdate(asin, "audible"))
			if err := s.audible.UpdatePosition(ctx, asin, *pushAudible); err != nil {
				s.logger.Error("audible push failed", "asin", asin, "error", err)
				s.engine.MarkFailed(asin, "audible push failed")
				s.metricsPushError("audible")
				result.Errors++
			} else {
				s.engine.MarkSynced(asin, pushAudible, nil)
				s.metricsPush("audible")
				result.PushedAudible++
			}
		}

		if pushShelf != nil && item.ShelfItemID != "" {
			s.sendProgress(progress, pushUpdate(asin, "shelf"))
			if err := s.shelf.UpdateProgress(ctx, item.ShelfItemID, *pushShelf); err != nil {
				s.logger.Error("shelf push failed", "asin", asin, "item_id", item.ShelfItemID, "error", err)
				s.engine.MarkFailed(asin, "shelf push failed")
				s.metricsPushError("shelf")
				result.Errors++
			} else {
				s.engine.MarkSynced(asin, nil, pushShelf)
				s.metricsPush("shelf")
				result.PushedShelf++
			}
		}
	}

	s.store.MarkSyncPass(time.Now())
	s.store.Save()
	s.finishPass(passID, started, result)
	return result, nil
}

// candidateSet unions the watchlist, the shelf's in-progress items, and
// Audible's recently played, preserving watchlist order first and deduping.
func (s *Syncer) candidateSet(shelfItems map[string]models.SyncItem, recent []string) []string {
	seen := map[string]struct{}{}
	var candidates []string

	add := func(asin string) {
		if asin == "" {
			return
		}
		if _, ok := seen[asin]; ok {
			return
		}
		seen[asin] = struct{}{}
		candidates = append(candidates, asin)
	}

	for _, asin := range s.store.WatchlistSnapshot() {
		add(asin)
	}
	for asin := range shelfItems {
		add(asin)
	}
	for _, asin := range recent {
		add(asin)
	}
	return candidates
}

// gatherShelfReadings fills in shelf readings for candidates the bulk
// in-progress fetch did not cover, resolving ASINs and fetching per-item
// progress with bounded parallelism. Candidates that cannot be resolved to
// a shelf item are absent from the result.
func (s *Syncer) gatherShelfReadings(ctx context.Context, candidates []string, bulk map[string]models.SyncItem) map[string]models.SyncItem {
	items := make(map[string]models.SyncItem, len(candidates))
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for _, asin := range candidates {
		if item, ok := bulk[asin]; ok {
			items[asin] = item
			continue
		}

		group.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}

			itemID, err := s.shelf.LookupItem(ctx, asin)
			if err != nil {
				s.logger.Debug("shelf lookup failed", "asin", asin, "error", err)
				return nil
			}
			if itemID == "" {
				return nil
			}

			item := models.SyncItem{ASIN: asin, ShelfItemID: itemID}
			zero := 0.0
			item.ShelfPositionS = &zero

			snap, err := s.shelf.ItemProgress(ctx, itemID)
			if err != nil {
				s.logger.Debug("shelf progress fetch failed", "asin", asin, "item_id", itemID, "error", err)
			} else if snap != nil {
				pos := snap.PositionS
				item.ShelfPositionS = &pos
				item.DurationS = snap.DurationS
				item.ShelfUpdatedAt = snap.UpdatedAt
			}

			mu.Lock()
			items[asin] = item
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		s.logger.Debug("shelf reading gather interrupted", "error", err)
	}
	return items
}

// Loop runs sync passes every interval until ctx is canceled. A pass that
// errors is logged and the loop keeps going.
func (s *Syncer) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunPass(ctx, nil); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sync pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Syncer) finishPass(passID string, started time.Time, result *PassResult) {
	elapsed := time.Since(started)
	s.logger.Info("sync pass complete",
		"pass", passID,
		"candidates", result.Candidates,
		"reconciled", result.Reconciled,
		"pushed_audible", result.PushedAudible,
		"pushed_shelf", result.PushedShelf,
		"errors", result.Errors,
		"elapsed", elapsed)

	if s.metrics != nil {
		s.metrics.PassesTotal.Inc()
		s.metrics.PassDuration.Observe(elapsed.Seconds())
	}
}

func (s *Syncer) metricsPush(side string) {
	if s.metrics != nil {
		s.metrics.PushesTotal.WithLabelValues(side).Inc()
	}
}

func (s *Syncer) metricsPushError(side string) {
	if s.metrics != nil {
		s.metrics.PushErrorsTotal.WithLabelValues(side).Inc()
	}
}

func (s *Syncer) metricsPassError() {
	if s.metrics != nil {
		s.metrics.PassErrorsTotal.Inc()
	}
}
