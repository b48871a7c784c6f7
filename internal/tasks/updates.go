package tasks

import "fmt"

// ProgressUpdate represents a progress event during a sync or discovery
// pass.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchShelf Phase = iota
	FetchRecent
	FetchPositions
	Reconcile
	Push
	DeepScan
	Purchases
)

func (p Phase) String() string {
	switch p {
	case FetchShelf:
		return "fetch_shelf"
	case FetchRecent:
		return "fetch_recent"
	case FetchPositions:
		return "fetch_positions"
	case Reconcile:
		return "reconcile"
	case Push:
		return "push"
	case DeepScan:
		return "deep_scan"
	case Purchases:
		return "purchases"
	default:
		return ""
	}
}

func fetchShelfUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchShelf,
		Step:    1,
		Total:   1,
		Message: "Fetching in-progress items from Audiobookshelf...",
	}
}

func fetchRecentUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchRecent,
		Step:    1,
		Total:   1,
		Message: "Fetching recently played from Audible...",
	}
}

func fetchPositionsUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchPositions,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching Audible positions for %d candidates...", count),
	}
}

func reconcileUpdate(step, total int, asin string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reconcile,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Reconciling %s", step, total, asin),
	}
}

func pushUpdate(asin, side string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Push,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Pushing position to %s for %s", side, asin),
	}
}

func deepScanUpdate(found int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeepScan,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Deep scan found %d in-progress items", found),
	}
}

func purchasesUpdate(found int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Purchases,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d new purchases", found),
	}
}
