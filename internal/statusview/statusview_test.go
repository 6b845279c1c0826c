package statusview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fpang/incident-tickets/internal/store"
)

func tk(id string, s store.Status) *store.Ticket {
	return &store.Ticket{ID: id, Status: s}
}

func TestMerge_KeepsIdentityForUnchangedStatus(t *testing.T) {
	a, b := tk("a", store.StatusPending), tk("b", store.StatusDone)
	current := []*store.Ticket{a, b}

	a2, b2, c := tk("a", store.StatusProcessing), tk("b", store.StatusDone), tk("c", store.StatusPending)
	got := Merge(current, []*store.Ticket{c, b2, a2})

	if len(got) != 3 || got[0] != c || got[1] != b || got[2] != a2 {
		t.Errorf("Merge = %v", got)
	}
}

func TestMerge_EmptyCurrent(t *testing.T) {
	in := []*store.Ticket{tk("a", store.StatusDone)}
	if got := Merge(nil, in); len(got) != 1 || got[0] != in[0] {
		t.Error("first fetch should return incoming as-is")
	}
}

func TestMerge_DropsRemovedRows(t *testing.T) {
	got := Merge([]*store.Ticket{tk("a", store.StatusDone)}, []*store.Ticket{})
	if len(got) != 0 {
		t.Errorf("Merge = %v", got)
	}
}

type fakeLister struct {
	mu      sync.Mutex
	batches [][]*store.Ticket
	err     error
}

func (f *fakeLister) ListTickets(ctx context.Context, opts store.ListOptions) ([]*store.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return b, nil
}

func TestTracker_Poll(t *testing.T) {
	lister := &fakeLister{batches: [][]*store.Ticket{
		{tk("a", store.StatusPending), tk("b", store.StatusFailed)},
		{tk("a", store.StatusDone), tk("b", store.StatusFailed)},
		{tk("a", store.StatusDone), tk("b", store.StatusFailed)},
	}}
	var changes [][]*store.Ticket
	tr := NewTracker(lister, 0, store.ListOptions{}, func(changed, all []*store.Ticket) {
		changes = append(changes, changed)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tr.Poll(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 change callbacks, got %d", len(changes))
	}
	if len(changes[0]) != 2 {
		t.Errorf("first poll should report every row, got %d", len(changes[0]))
	}
	if len(changes[1]) != 1 || changes[1][0].ID != "a" {
		t.Errorf("second poll changes = %v", changes[1])
	}

	snap := tr.Snapshot()
	if snap[0].Status != store.StatusDone {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestTracker_PollErrorKeepsState(t *testing.T) {
	lister := &fakeLister{batches: [][]*store.Ticket{{tk("a", store.StatusPending)}}}
	tr := NewTracker(lister, time.Second, store.ListOptions{}, nil)
	tr.Poll(context.Background())

	lister.err = errors.New("offline")
	if err := tr.Poll(context.Background()); err == nil {
		t.Error("expected poll error")
	}
	if len(tr.Snapshot()) != 1 {
		t.Error("state should survive a failed poll")
	}
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	lister := &fakeLister{batches: [][]*store.Ticket{{tk("a", store.StatusPending)}}}
	tr := NewTracker(lister, time.Millisecond, store.ListOptions{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v", err)
	}
}

type fakeDispatcher struct{ refs []store.TicketRef }

func (f *fakeDispatcher) Dispatch(ctx context.Context, ref store.TicketRef) error {
	f.refs = append(f.refs, ref)
	return nil
}

func TestDetails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ticket := &store.Ticket{StoragePath: "p"}
	st.CreateTicket(ctx, ticket)
	st.CreateRecordings(ctx, []*store.Recording{{TicketID: ticket.ID, FileName: "a.m4a", Role: store.RoleCustomer, RecordingTime: time.Unix(1, 0)}})
	st.AppendTicketError(ctx, ticket.ID, "boom")

	d, err := Details(ctx, st, ticket)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Recordings) != 1 || d.Errors != nil {
		t.Errorf("pending ticket details = %+v", d)
	}

	ticket.Status = store.StatusFailed
	d, _ = Details(ctx, st, ticket)
	if len(d.Errors) != 1 || d.Errors[0].ErrorMessage != "boom" {
		t.Errorf("failed ticket errors = %+v", d.Errors)
	}
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := &fakeDispatcher{}
	a := NewActions(st, d)

	ticket := &store.Ticket{StoragePath: "p"}
	st.CreateTicket(ctx, ticket)
	st.SetTicketStatus(ctx, ticket.ID, store.StatusFailed)
	st.AppendTicketError(ctx, ticket.ID, "boom")

	if _, err := a.Retry(ctx, ticket.ID); err != nil {
		t.Fatal(err)
	}
	if len(d.refs) != 1 || d.refs[0].ID != ticket.ID {
		t.Errorf("dispatched %v", d.refs)
	}
	if errs, _ := st.ListTicketErrors(ctx, ticket.ID); len(errs) != 1 {
		t.Error("retry must not delete the error log")
	}

	st.SetTicketStatus(ctx, ticket.ID, store.StatusProcessing)
	if _, err := a.Retry(ctx, ticket.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry of processing ticket: %v", err)
	}
	if _, err := a.Retry(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("retry of missing ticket: %v", err)
	}

	n, err := a.ClearErrors(ctx, ticket.ID)
	if err != nil || n != 1 {
		t.Errorf("ClearErrors = %d, %v", n, err)
	}
}

func TestActions_RetryWithoutDispatcher(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ticket := &store.Ticket{StoragePath: "p"}
	st.CreateTicket(ctx, ticket)

	if _, err := NewActions(st, nil).Retry(ctx, ticket.ID); !errors.Is(err, ErrNoDispatcher) {
		t.Errorf("err = %v, want ErrNoDispatcher", err)
	}
}
