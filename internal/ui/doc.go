// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a multi-view workflow for inspecting sync state:
//  1. [ItemListView] : Browse tracked audiobooks in watchlist recency order
//  2. [DetailView] : Per-item positions, timestamps, and error counts
//  3. [SyncView] : Monitor a manually triggered sync pass in real time
//  4. [ResultView] : Display the pass summary
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern.
// Progress updates flow through a channel from the Syncer, providing non-blocking status reporting during a pass.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
