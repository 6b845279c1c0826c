package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestTicket(t *testing.T, s *MemoryStore) *Ticket {
	t.Helper()
	tk := &Ticket{StoragePath: "incidents/abc", IncidentTime: time.Unix(1700000000, 0).UTC()}
	if err := s.CreateTicket(context.Background(), tk); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return tk
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}: true,
		{StatusFailed, StatusProcessing}:  true,
		{StatusProcessing, StatusDone}:    true,
		{StatusProcessing, StatusFailed}:  true,
	}
	all := []Status{StatusPending, StatusProcessing, StatusDone, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"Customer": RoleCustomer, "manager": RoleManager, " OTHER ": RoleOther} {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Errorf("ParseRole(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseRole("Waiter"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestMemoryStore_CreateDefaults(t *testing.T) {
	s := NewMemoryStore()
	tk := newTestTicket(t, s)
	if tk.ID == "" || tk.CreatedAt.IsZero() {
		t.Fatalf("expected ID and CreatedAt to be filled, got %+v", tk)
	}
	if tk.Status != StatusPending {
		t.Errorf("status = %s, want pending", tk.Status)
	}

	got, err := s.GetTicket(context.Background(), tk.ID)
	if err != nil || got == nil {
		t.Fatalf("GetTicket: %v %v", got, err)
	}
	if got == tk {
		t.Error("GetTicket returned the caller's pointer")
	}

	missing, err := s.GetTicket(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("GetTicket(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryStore_ClaimTicket(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := newTestTicket(t, s)

	ok, err := s.ClaimTicket(ctx, tk.ID)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true", ok, err)
	}
	ok, err = s.ClaimTicket(ctx, tk.ID)
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v; want false", ok, err)
	}

	if err := s.SetTicketStatus(ctx, tk.ID, StatusFailed); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.ClaimTicket(ctx, tk.ID)
	if !ok {
		t.Error("failed ticket should be claimable")
	}

	if err := s.SetTicketStatus(ctx, tk.ID, StatusDone); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.ClaimTicket(ctx, tk.ID)
	if ok {
		t.Error("done ticket should not be claimable")
	}

	if _, err := s.ClaimTicket(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("claim missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListTicketsNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()

	var ids []string
	for i := 0; i < 3; i++ {
		tk := &Ticket{StoragePath: "p", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateTicket(ctx, tk); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, tk.ID)
	}

	got, err := s.ListTickets(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != ids[2] || got[2].ID != ids[0] {
		t.Errorf("unexpected order: %v", []string{got[0].ID, got[1].ID, got[2].ID})
	}

	limited, _ := s.ListTickets(ctx, ListOptions{Limit: 2})
	if len(limited) != 2 || limited[0].ID != ids[2] {
		t.Errorf("limit not applied: %d rows", len(limited))
	}
}

func TestMemoryStore_RecordingsAscending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := newTestTicket(t, s)
	base := time.Unix(1700000000, 0).UTC()

	recs := []*Recording{
		{TicketID: tk.ID, FileName: "c.m4a", Role: RoleCustomer, RecordingTime: base.Add(2 * time.Minute)},
		{TicketID: tk.ID, FileName: "a.m4a", Role: RoleCustomer, RecordingTime: base},
		{TicketID: tk.ID, FileName: "b.m4a", Role: RoleManager, RecordingTime: base.Add(time.Minute)},
	}
	if err := s.CreateRecordings(ctx, recs); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListRecordings(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].FileName != "a.m4a" || got[1].FileName != "b.m4a" || got[2].FileName != "c.m4a" {
		t.Errorf("unexpected order: %s %s %s", got[0].FileName, got[1].FileName, got[2].FileName)
	}

	if err := s.SetRecordingTranscription(ctx, tk.ID, got[0].ID, "Person 1: hello"); err != nil {
		t.Fatal(err)
	}
	again, _ := s.ListRecordings(ctx, tk.ID)
	if again[0].Transcription == nil || *again[0].Transcription != "Person 1: hello" {
		t.Error("transcription not persisted")
	}

	orphan := []*Recording{{TicketID: "missing", FileName: "x"}}
	if err := s.CreateRecordings(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan recording err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CompleteTicket(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := newTestTicket(t, s)

	raw := json.RawMessage(`{"Branch":"General","Name":null}`)
	fields, err := DecodeFields(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteTicket(ctx, tk.ID, fields, raw); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetTicket(ctx, tk.ID)
	if got.Status != StatusDone {
		t.Errorf("status = %s, want done", got.Status)
	}
	if got.Fields == nil || got.Fields.Branch == nil || *got.Fields.Branch != "General" || got.Fields.Name != nil {
		t.Errorf("unexpected fields %+v", got.Fields)
	}
	if string(got.ColumnsField) != string(raw) {
		t.Errorf("columns_field = %s", got.ColumnsField)
	}
}

func TestMemoryStore_TicketErrors(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1700000000, 0).UTC()
	s := NewMemoryStore().WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	tk := newTestTicket(t, s)

	for _, msg := range []string{"first", "second", "third"} {
		if err := s.AppendTicketError(ctx, tk.ID, msg); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := s.ListTicketErrors(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].ErrorMessage != "third" || rows[2].ErrorMessage != "first" {
		t.Errorf("expected newest first, got %v", rows)
	}

	n, err := s.ClearTicketErrors(ctx, tk.ID)
	if err != nil || n != 3 {
		t.Errorf("ClearTicketErrors = %d, %v", n, err)
	}
	rows, _ = s.ListTicketErrors(ctx, tk.ID)
	if len(rows) != 0 {
		t.Errorf("expected no errors after clear, got %d", len(rows))
	}

	if err := s.AppendTicketError(ctx, "missing", "orphan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan error row: err = %v, want ErrNotFound", err)
	}
}
