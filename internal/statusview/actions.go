package statusview

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/store"
)

// ErrNotRetryable is returned by Retry for a ticket that is processing or
// already done.
var ErrNotRetryable = errors.New("ticket is not retryable")

// ErrNoDispatcher is returned by Retry when no processing target is wired.
var ErrNoDispatcher = errors.New("no processing dispatcher configured")

// DetailStore is the read side used when a ticket is expanded.
type DetailStore interface {
	ListRecordings(ctx context.Context, ticketID string) ([]*store.Recording, error)
	ListTicketErrors(ctx context.Context, ticketID string) ([]*store.TicketError, error)
}

// TicketDetails is an expanded ticket.
type TicketDetails struct {
	Ticket     *store.Ticket        `json:"ticket"`
	Recordings []*store.Recording   `json:"recordings"`
	Errors     []*store.TicketError `json:"errors,omitempty"`
}

// Details loads recordings and, for failed tickets only, the error log
// newest first.
func Details(ctx context.Context, st DetailStore, t *store.Ticket) (*TicketDetails, error) {
	recs, err := st.ListRecordings(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	d := &TicketDetails{Ticket: t, Recordings: recs}
	if t.Status == store.StatusFailed {
		errs, err := st.ListTicketErrors(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list ticket errors: %w", err)
		}
		d.Errors = errs
	}
	return d, nil
}

// ActionStore is the store access the actions need.
type ActionStore interface {
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	ClearTicketErrors(ctx context.Context, ticketID string) (int, error)
}

// Dispatcher starts processing for a ticket.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref store.TicketRef) error
}

// Actions are the user-triggered operations on a ticket.
type Actions struct {
	store      ActionStore
	dispatcher Dispatcher
}

func NewActions(st ActionStore, d Dispatcher) *Actions {
	return &Actions{store: st, dispatcher: d}
}

// Retry re-runs the processor for a pending or failed ticket. The error
// log is kept; ClearErrors removes it.
func (a *Actions) Retry(ctx context.Context, id string) (*store.Ticket, error) {
	t, err := a.store.GetTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("ticket %s: %w", id, store.ErrNotFound)
	}
	if !t.Status.Claimable() {
		return t, fmt.Errorf("ticket %s is %s: %w", id, t.Status, ErrNotRetryable)
	}
	if a.dispatcher == nil {
		return t, ErrNoDispatcher
	}
	if err := a.dispatcher.Dispatch(ctx, t.Ref()); err != nil {
		return t, fmt.Errorf("dispatch: %w", err)
	}
	log.Info().Str("ticketId", id).Msg("Ticket retry dispatched")
	return t, nil
}

// ClearErrors deletes the ticket's whole error log.
func (a *Actions) ClearErrors(ctx context.Context, id string) (int, error) {
	n, err := a.store.ClearTicketErrors(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("clear ticket errors: %w", err)
	}
	log.Info().Str("ticketId", id).Int("cleared", n).Msg("Ticket errors cleared")
	return n, nil
}
