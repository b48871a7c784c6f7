// Package models defines the transient data transfer objects that cross
// package boundaries in abx.
//
//   - [SyncItem] : per-cycle readings for one audiobook, assembled fresh by
//     the sync driver from collaborator responses and discarded after the
//     reconciliation call
//   - [ProgressSnapshot] : a single progress reading fetched on demand from
//     Audiobookshelf
//
// Durable state lives in internal/state; nothing in this package is
// persisted.
package models
