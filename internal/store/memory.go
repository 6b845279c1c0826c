package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process TicketStore. Rows are deep-copied on the
// way in and out so callers never share memory with the store.
type MemoryStore struct {
	mu         sync.Mutex
	tickets    map[string]*Ticket
	recordings map[string][]*Recording
	errors     map[string][]*TicketError
	now        func() time.Time
}

var _ TicketStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:    make(map[string]*Ticket),
		recordings: make(map[string][]*Recording),
		errors:     make(map[string][]*TicketError),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests that need ordering.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) CreateTicket(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if _, exists := m.tickets[t.ID]; exists {
		return fmt.Errorf("create ticket %s: already exists", t.ID)
	}
	m.tickets[t.ID] = copyTicket(t)
	return nil
}

func (m *MemoryStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	return copyTicket(t), nil
}

func (m *MemoryStore) ListTickets(ctx context.Context, opts ListOptions) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		out = append(out, copyTicket(t))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := opts.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimTicket(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return false, fmt.Errorf("claim ticket %s: %w", id, ErrNotFound)
	}
	if !t.Status.Claimable() {
		return false, nil
	}
	t.Status = StatusProcessing
	return true, nil
}

func (m *MemoryStore) SetTicketStatus(ctx context.Context, id string, status Status) error {
	return m.updateTicket(id, func(t *Ticket) { t.Status = status })
}

func (m *MemoryStore) SetTicketTranscription(ctx context.Context, id, text string) error {
	return m.updateTicket(id, func(t *Ticket) { t.Transcription = &text })
}

func (m *MemoryStore) CompleteTicket(ctx context.Context, id string, fields *TicketFields, raw json.RawMessage) error {
	return m.updateTicket(id, func(t *Ticket) {
		t.Fields = copyFields(fields)
		t.ColumnsField = append(json.RawMessage(nil), raw...)
		t.Status = StatusDone
	})
}

func (m *MemoryStore) updateTicket(id string, apply func(*Ticket)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return fmt.Errorf("update ticket %s: %w", id, ErrNotFound)
	}
	apply(t)
	return nil
}

func (m *MemoryStore) CreateRecordings(ctx context.Context, recs []*Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range recs {
		if _, ok := m.tickets[r.TicketID]; !ok {
			return fmt.Errorf("create recording for ticket %s: %w", r.TicketID, ErrNotFound)
		}
	}
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		c := *r
		m.recordings[r.TicketID] = append(m.recordings[r.TicketID], &c)
	}
	return nil
}

func (m *MemoryStore) ListRecordings(ctx context.Context, ticketID string) ([]*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Recording, 0, len(m.recordings[ticketID]))
	for _, r := range m.recordings[ticketID] {
		c := *r
		if r.Transcription != nil {
			text := *r.Transcription
			c.Transcription = &text
		}
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordingTime.Before(out[j].RecordingTime)
	})
	return out, nil
}

func (m *MemoryStore) SetRecordingTranscription(ctx context.Context, ticketID, recordingID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.recordings[ticketID] {
		if r.ID == recordingID {
			r.Transcription = &text
			return nil
		}
	}
	return fmt.Errorf("update recording %s: %w", recordingID, ErrNotFound)
}

func (m *MemoryStore) AppendTicketError(ctx context.Context, ticketID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[ticketID]; !ok {
		return fmt.Errorf("append ticket error %s: %w", ticketID, ErrNotFound)
	}

	m.errors[ticketID] = append(m.errors[ticketID], &TicketError{
		ID:           uuid.NewString(),
		TicketID:     ticketID,
		ErrorMessage: msg,
		CreatedAt:    m.now(),
	})
	return nil
}

func (m *MemoryStore) ListTicketErrors(ctx context.Context, ticketID string) ([]*TicketError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.errors[ticketID]
	out := make([]*TicketError, 0, len(rows))
	// Appended in time order, so walking backwards is newest first.
	for i := len(rows) - 1; i >= 0; i-- {
		c := *rows[i]
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) ClearTicketErrors(ctx context.Context, ticketID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.errors[ticketID])
	delete(m.errors, ticketID)
	return n, nil
}

func copyTicket(t *Ticket) *Ticket {
	c := *t
	if t.Transcription != nil {
		text := *t.Transcription
		c.Transcription = &text
	}
	c.Fields = copyFields(t.Fields)
	if t.ColumnsField != nil {
		c.ColumnsField = append(json.RawMessage(nil), t.ColumnsField...)
	}
	return &c
}

func copyFields(f *TicketFields) *TicketFields {
	if f == nil {
		return nil
	}
	c := *f
	if f.Category != nil {
		c.Category = append([]string(nil), f.Category...)
	}
	return &c
}
