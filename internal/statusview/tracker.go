package statusview

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/store"
)

// DefaultInterval is how often Tracker polls.
const DefaultInterval = 5 * time.Second

// TicketLister is the read the tracker polls.
type TicketLister interface {
	ListTickets(ctx context.Context, opts store.ListOptions) ([]*store.Ticket, error)
}

// ChangeFunc receives the rows that are new or changed status since the
// previous poll, and the full merged list.
type ChangeFunc func(changed, all []*store.Ticket)

// Tracker keeps a merged newest-first ticket list up to date.
type Tracker struct {
	lister   TicketLister
	interval time.Duration
	opts     store.ListOptions
	onChange ChangeFunc

	mu      sync.Mutex
	tickets []*store.Ticket
}

// NewTracker polls lister every interval (DefaultInterval if zero).
func NewTracker(lister TicketLister, interval time.Duration, opts store.ListOptions, onChange ChangeFunc) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{lister: lister, interval: interval, opts: opts, onChange: onChange}
}

// Snapshot returns the current merged list.
func (t *Tracker) Snapshot() []*store.Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*store.Ticket(nil), t.tickets...)
}

// Poll fetches once and merges. A fetch error leaves the state unchanged.
func (t *Tracker) Poll(ctx context.Context) error {
	incoming, err := t.lister.ListTickets(ctx, t.opts)
	if err != nil {
		return err
	}

	t.mu.Lock()
	prev := t.tickets
	next := Merge(prev, incoming)
	t.tickets = next
	t.mu.Unlock()

	if changed := Changed(prev, next); len(changed) > 0 && t.onChange != nil {
		t.onChange(changed, next)
	}
	return nil
}

// Run polls immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Poll(ctx); err != nil {
		log.Warn().Err(err).Msg("Error polling for tickets")
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Poll(ctx); err != nil {
				log.Warn().Err(err).Msg("Error polling for tickets")
			}
		}
	}
}
