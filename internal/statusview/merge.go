// Package statusview is the client side of the ticket list: polling and
// merging ticket rows, lazily loading details, and the retry and
// clear-errors actions.
package statusview

import "github.com/fpang/incident-tickets/internal/store"

// Merge returns incoming in its own order, except that a row whose ID and
// status match a row in current is replaced by the current pointer.
// Renderers can compare pointers to skip unchanged rows.
func Merge(current, incoming []*store.Ticket) []*store.Ticket {
	if len(current) == 0 {
		return incoming
	}
	byID := make(map[string]*store.Ticket, len(current))
	for _, t := range current {
		byID[t.ID] = t
	}
	next := make([]*store.Ticket, len(incoming))
	for i, t := range incoming {
		if prev, ok := byID[t.ID]; ok && prev.Status == t.Status {
			next[i] = prev
			continue
		}
		next[i] = t
	}
	return next
}

// Changed returns the rows of next that are not pointer-identical to a row
// of prev.
func Changed(prev, next []*store.Ticket) []*store.Ticket {
	seen := make(map[*store.Ticket]bool, len(prev))
	for _, t := range prev {
		seen[t] = true
	}
	var out []*store.Ticket
	for _, t := range next {
		if !seen[t] {
			out = append(out, t)
		}
	}
	return out
}
