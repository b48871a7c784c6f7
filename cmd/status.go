package main

import (
	"context"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/abx/internal/state"
	"github.com/urfave/cli/v3"
)

var statusLabelStyle = lipgloss.NewStyle().Bold(true).Width(22)

// Status reports on the persisted sync state without touching either API.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	store := state.NewStore(config.State.Path, config.State.Persist, config.Sync.WatchlistMaxSize, r.logger)
	store.Load()

	summary := store.Summarize()
	items := store.TrackedItems()

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"summary": summary,
			"items":   statusItems(items),
		}, true)
	}

	r.writePlainHeader("Sync Status")
	r.writePlain("%s%d\n", statusLabelStyle.Render("Watchlist size"), summary.WatchlistSize)
	r.writePlain("%s%d\n", statusLabelStyle.Render("Tracked items"), summary.TrackedItems)
	r.writePlain("%s%s\n", statusLabelStyle.Render("Last sync"), formatStatusTime(summary.LastSuccessfulSync))
	r.writePlain("%s%s\n", statusLabelStyle.Render("Last deep scan"), formatStatusTime(summary.LastDeepScan))
	r.writePlain("%s%s\n", statusLabelStyle.Render("Last discovery"), formatStatusTime(summary.LastLibraryDiscovery))
	if summary.ReadOnly {
		r.writePlain("%s%s\n", statusLabelStyle.Render("Persistence"), "DISABLED (write failure)")
	}

	if len(items) == 0 {
		return r.writePlainln("No tracked items yet. Run `abx sync` or `abx watch add <asin>`.")
	}

	r.writePlainln("Tracked items:")
	for _, item := range items {
		st := item.Status
		r.writePlain("  %s  audible %.0fs  shelf %.0fs", item.ASIN,
			float64(st.LastSeenAudibleMS)/1000.0, st.LastSeenShelfS)
		if st.ErrorCount > 0 {
			r.writePlain("  (%d errors: %s)", st.ErrorCount, st.LastResult)
		}
		r.writePlain("\n")
	}

	return nil
}

// statusItems flattens tracked items for JSON output, keyed fields only.
func statusItems(items []state.TrackedItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		st := item.Status
		out = append(out, map[string]any{
			"asin":               item.ASIN,
			"audible_position_s": float64(st.LastSeenAudibleMS) / 1000.0,
			"shelf_position_s":   st.LastSeenShelfS,
			"last_result":        st.LastResult,
			"error_count":        st.ErrorCount,
		})
	}
	return out
}

func formatStatusTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
