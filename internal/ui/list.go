package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/abx/internal/state"
)

var _ list.Item = trackedItem{}

// trackedItem wraps [state.TrackedItem] to implement [list.Item].
type trackedItem struct {
	item state.TrackedItem
}

func (i trackedItem) FilterValue() string { return i.item.ASIN }
func (i trackedItem) Title() string       { return i.item.ASIN }
func (i trackedItem) Description() string {
	st := i.item.Status
	desc := fmt.Sprintf("audible %s • shelf %s",
		formatPosition(float64(st.LastSeenAudibleMS)/1000.0),
		formatPosition(st.LastSeenShelfS))
	if st.ErrorCount > 0 {
		desc = fmt.Sprintf("%s • %d errors", desc, st.ErrorCount)
	}
	return desc
}

// formatPosition renders a position in seconds as h:mm:ss.
func formatPosition(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
