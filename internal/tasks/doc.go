// package tasks implements the periodic work of the sync daemon.
//
// Two loops run side by side. The fast loop ([Syncer]) builds a candidate
// set from the watchlist plus live activity on both services, fetches
// current positions, and reconciles each item. The slow loop ([Discovery])
// finds items worth watching: a paged deep scan of the whole Audible
// library and a check for new purchases.
//
// Operations emit progress updates via channels for non-blocking status
// reporting to CLI/UI layers.
package tasks
