package state

import "slices"

// Watchlist is an ordered set of ASINs with insertion-order-is-recency
// semantics: the most recently touched identifier sits at the tail, and
// trimming evicts from the head.
type Watchlist []string

// Touch moves each id to the tail (appending ids seen for the first time),
// preserving the supplied order within the batch, then trims from the head
// until the list is at most max entries long. Trimming happens once after
// the whole batch so ids passed together stay adjacent.
func (w *Watchlist) Touch(ids []string, max int) {
	if len(ids) == 0 {
		return
	}

	batch := map[string]struct{}{}
	for _, id := range ids {
		batch[id] = struct{}{}
	}

	kept := (*w)[:0:len(*w)]
	for _, id := range *w {
		if _, ok := batch[id]; !ok {
			kept = append(kept, id)
		}
	}

	// Re-append in the supplied order, skipping duplicates inside the batch
	// itself (first occurrence wins).
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, id)
	}

	if max > 0 && len(kept) > max {
		kept = kept[len(kept)-max:]
	}

	*w = slices.Clone(kept)
}

// Contains reports whether id is currently watchlisted.
func (w Watchlist) Contains(id string) bool {
	return slices.Contains(w, id)
}
