package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/services"
	"github.com/desertthunder/abx/internal/state"
)

// discoveryTick is how often the slow loop wakes to check whether either
// periodic task is due.
const discoveryTick = time.Minute

// Discovery runs the slow loop: the paged deep scan of the whole Audible
// library and the check for newly purchased items. Both only add ASINs to
// the watchlist; the fast loop does the actual syncing.
type Discovery struct {
	store   *state.Store
	audible services.AudibleService
	logger  *log.Logger

	deepScanInterval  time.Duration
	discoveryInterval time.Duration

	now func() time.Time
}

// NewDiscovery wires a Discovery. A non-positive deepScanInterval disables
// deep scans entirely.
func NewDiscovery(store *state.Store, audible services.AudibleService, deepScanInterval, discoveryInterval time.Duration, logger *log.Logger) *Discovery {
	return &Discovery{
		store:             store,
		audible:           audible,
		logger:            logger,
		deepScanInterval:  deepScanInterval,
		discoveryInterval: discoveryInterval,
		now:               time.Now,
	}
}

// RunOnce executes whichever periodic tasks are due. Errors are logged and
// swallowed so one failing API cannot stall the loop.
func (d *Discovery) RunOnce(ctx context.Context, progress chan<- ProgressUpdate) {
	now := d.now()

	if d.deepScanInterval > 0 && now.Sub(d.store.LastDeepScan()) > d.deepScanInterval {
		d.logger.Info("starting deep scan")
		items, err := d.audible.DeepScanInProgress(ctx)
		if err != nil {
			d.logger.Error("deep scan failed", "error", err)
		}
		if len(items) > 0 {
			d.store.Touch(items...)
			d.logger.Info("deep scan added items to watchlist", "count", len(items))
		}
		d.sendProgress(progress, deepScanUpdate(len(items)))
		d.store.MarkDeepScan(now)
		d.store.Save()
	}

	if d.discoveryInterval > 0 && now.Sub(d.store.LastDiscovery()) > d.discoveryInterval {
		d.logger.Info("checking for new purchases")
		// Look back twice the interval so a missed window cannot drop a
		// purchase.
		since := now.Add(-2 * d.discoveryInterval)
		items, err := d.audible.NewlyPurchased(ctx, since)
		if err != nil {
			d.logger.Error("purchase discovery failed", "error", err)
		}
		if len(items) > 0 {
			d.store.Touch(items...)
			d.logger.Info("added recent purchases to watchlist", "count", len(items))
		}
		d.sendProgress(progress, purchasesUpdate(len(items)))
		d.store.MarkDiscovery(now)
		d.store.Save()
	}
}

// Loop wakes every minute and runs due tasks until ctx is canceled.
func (d *Discovery) Loop(ctx context.Context) error {
	ticker := time.NewTicker(discoveryTick)
	defer ticker.Stop()

	for {
		d.RunOnce(ctx, nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Discovery) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
