// Package engine implements the per-item reconciliation decision: given one
// audiobook's current readings from Audible and Audiobookshelf, decide
// whether and in which direction to push a position update.
//
// The engine is stateless apart from the SyncStatus it reads and mutates
// through the store handle; every call starts fresh from persisted state.
package engine

import (
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/models"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
)

// Positions already close to the target are never worth a push; beyond
// these magnitudes a proposed change overrides the cooldown window.
const (
	bigChangeAudibleMS int64   = 300_000 // 5 minutes
	bigChangeShelfS    float64 = 300
)

// Config carries the reconciliation tunables. It is immutable once the
// engine is constructed; the engine never reads ambient process state.
type Config struct {
	ToleranceS        float64 // Position delta below which a side is "unchanged"
	CooldownS         float64 // Minimum spacing between pushes to the same side
	ConflictMinDeltaS float64 // Detection-timestamp gap needed to trust the newer side
	Mode              string  // shared.ModeBidirectional or a one-way mode
}

// StatusStore is the narrow store surface the engine needs: serialized
// read/modify access to a single item's SyncStatus.
type StatusStore interface {
	Update(asin string, fn func(*state.SyncStatus))
}

// Engine decides position pushes for one item at a time.
type Engine struct {
	store  StatusStore
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

// New creates an Engine bound to a status store.
func New(store StatusStore, cfg Config, logger *log.Logger) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = shared.ModeBidirectional
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Reconcile inspects the current readings for item and returns the proposed
// pushes: a new Audible position in milliseconds and/or a new shelf position
// in seconds. At most one of the two is non-nil — the pushed side is treated
// as authoritative for this cycle. nil inputs mean the position is unknown
// on that side for this cycle.
//
// Side effects on the item's SyncStatus: last-seen positions are advanced as
// soon as a change is detected (so small drifts don't re-trigger), and the
// cooldown anchor of a side is stamped whenever a push to it is proposed and
// not suppressed — before the remote write is confirmed.
func (e *Engine) Reconcile(item models.SyncItem, audibleMS *int64, shelfS *float64) (pushAudibleMS *int64, pushShelfS *float64) {
	e.store.Update(item.ASIN, func(st *state.SyncStatus) {
		now := e.now()

		var audibleS *float64
		if audibleMS != nil {
			v := float64(*audibleMS) / 1000.0
			audibleS = &v
		}

		// 1. Change detection, each side independently.
		audibleChanged := false
		if audibleS != nil {
			delta := math.Abs(*audibleS - float64(st.LastSeenAudibleMS)/1000.0)
			if delta > e.cfg.ToleranceS {
				audibleChanged = true
				e.logger.Info("change detected on audible",
					"asin", item.ASIN,
					"from_s", float64(st.LastSeenAudibleMS)/1000.0,
					"to_s", *audibleS)
				st.AudibleChangedAt = now
				st.LastSeenAudibleMS = *audibleMS
			}
		}

		shelfChanged := false
		if shelfS != nil {
			delta := math.Abs(*shelfS - st.LastSeenShelfS)
			if delta > e.cfg.ToleranceS {
				shelfChanged = true
				e.logger.Info("change detected on shelf",
					"asin", item.ASIN,
					"from_s", st.LastSeenShelfS,
					"to_s", *shelfS)
				// The shelf reports when it recorded the change itself;
				// prefer that over our observation time.
				if !item.ShelfUpdatedAt.IsZero() {
					st.ShelfChangedAt = item.ShelfUpdatedAt
				} else {
					st.ShelfChangedAt = now
				}
				st.LastSeenShelfS = *shelfS
			}
		}

		// 2. Nothing moved on either side.
		if !audibleChanged && !shelfChanged {
			return
		}

		// 3. Fixed-direction modes push source changes and ignore everything
		// else, bypassing conflict resolution and cooldown entirely.
		switch e.cfg.Mode {
		case shared.ModeAudibleToShelf:
			if audibleChanged && shelfS != nil {
				pushShelfS = audibleS
			}
			return
		case shared.ModeShelfToAudible:
			if shelfChanged && audibleS != nil {
				pushAudibleMS = msFromSeconds(*shelfS)
			}
			return
		}

		// 4/5. Bidirectional resolution.
		switch {
		case audibleChanged && !shelfChanged:
			// Nothing to reconcile against if the shelf doesn't know the item.
			if shelfS != nil {
				pushShelfS = audibleS
			}

		case shelfChanged && !audibleChanged:
			if audibleS != nil {
				pushAudibleMS = msFromSeconds(*shelfS)
			}

		default:
			// Conflict: both sides moved since the last observed state.
			e.logger.Info("conflict detected",
				"asin", item.ASIN,
				"audible_s", *audibleS,
				"shelf_s", *shelfS)

			diff := st.AudibleChangedAt.Sub(st.ShelfChangedAt)
			minDelta := secondsToDuration(e.cfg.ConflictMinDeltaS)

			if diff.Abs() >= minDelta {
				// Detection timestamps differ enough to trust the newer side.
				if diff > 0 {
					pushShelfS = audibleS
					e.logger.Info("resolving conflict: audible is newer", "asin", item.ASIN, "by", diff)
				} else {
					pushAudibleMS = msFromSeconds(*shelfS)
					e.logger.Info("resolving conflict: shelf is newer", "asin", item.ASIN, "by", -diff)
				}
			} else {
				// Timestamps too close to trust; assume the furthest
				// position is real forward progress. A legitimate rewind on
				// the "ahead" side loses here.
				if *audibleS > *shelfS {
					pushShelfS = audibleS
					e.logger.Info("resolving conflict: audible is further ahead", "asin", item.ASIN)
				} else {
					pushAudibleMS = msFromSeconds(*shelfS)
					e.logger.Info("resolving conflict: shelf is further ahead", "asin", item.ASIN)
				}
			}
		}

		// 6. Cooldown throttling. Suppressing one side never alters the
		// resolution already computed for the other.
		cooldown := secondsToDuration(e.cfg.CooldownS)

		if pushAudibleMS != nil {
			magnitude := *pushAudibleMS - st.LastSeenAudibleMS
			if now.Sub(st.AudiblePushedAt) < cooldown && abs64(magnitude) < bigChangeAudibleMS {
				e.logger.Info("skipping audible push due to cooldown", "asin", item.ASIN)
				pushAudibleMS = nil
			} else {
				st.AudiblePushedAt = now
			}
		}

		if pushShelfS != nil {
			magnitude := *pushShelfS - st.LastSeenShelfS
			if now.Sub(st.ShelfPushedAt) < cooldown && math.Abs(magnitude) < bigChangeShelfS {
				e.logger.Info("skipping shelf push due to cooldown", "asin", item.ASIN)
				pushShelfS = nil
			} else {
				st.ShelfPushedAt = now
			}
		}
	})

	return pushAudibleMS, pushShelfS
}

// MarkSynced advances the last-seen positions after a successful push so the
// pushed value is not re-detected as a change on the next pass (ping-pong).
func (e *Engine) MarkSynced(asin string, pushedAudibleMS *int64, pushedShelfS *float64) {
	e.store.Update(asin, func(st *state.SyncStatus) {
		if pushedAudibleMS != nil {
			st.LastSeenAudibleMS = *pushedAudibleMS
		}
		if pushedShelfS != nil {
			st.LastSeenShelfS = *pushedShelfS
		}
		st.LastResult = "ok"
	})
}

// MarkFailed records a failed push attempt for the item.
func (e *Engine) MarkFailed(asin string, reason string) {
	e.store.Update(asin, func(st *state.SyncStatus) {
		st.LastResult = reason
		st.ErrorCount++
	})
}

func msFromSeconds(s float64) *int64 {
	v := int64(s * 1000)
	return &v
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
