// Package store persists incident tickets, their recordings and their
// failure log.
//
// Three row types live here: Ticket, Recording and TicketError. A ticket's
// status moves pending -> processing -> done|failed, and failed -> processing
// again on retry. The move into processing is a conditional update
// (ClaimTicket) so two concurrent runs cannot both own a ticket.
//
// Two backends implement TicketStore: Aurora PostgreSQL through the RDS Data
// API (DataAPIStore) and a DynamoDB single table (DynamoStore). MemoryStore
// backs tests and local CLI runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the processing state of a ticket.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Claimable reports whether a ticket in state s may move to processing.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the ticket state
// machine.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusProcessing:
		return from.Claimable()
	case StatusDone, StatusFailed:
		return from == StatusProcessing
	}
	return false
}

// Role identifies who is speaking on a recording.
type Role string

const (
	RoleCustomer Role = "Customer"
	RoleManager  Role = "Manager"
	RoleOther    Role = "Other"
)

// ParseRole accepts a role name in any letter case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customer":
		return RoleCustomer, nil
	case "manager":
		return RoleManager, nil
	case "other":
		return RoleOther, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Ticket is one customer incident.
type Ticket struct {
	ID           string    `json:"id"`
	StoragePath  string    `json:"storage_path"`
	IncidentTime time.Time `json:"incident_time"`
	CreatedAt    time.Time `json:"created_at"`
	Status       Status    `json:"status"`

	// Transcription is the combined transcript; nil until every recording
	// has been transcribed.
	Transcription *string `json:"transcription"`

	// Fields and ColumnsField are set together when processing completes.
	// ColumnsField keeps the normalized model payload as returned.
	Fields       *TicketFields   `json:"fields,omitempty"`
	ColumnsField json.RawMessage `json:"columns_field,omitempty"`
}

// Ref returns the processing trigger reference for t.
func (t *Ticket) Ref() TicketRef {
	return TicketRef{ID: t.ID, StoragePath: t.StoragePath}
}

// TicketRef is the minimal identity the processor is triggered with.
type TicketRef struct {
	ID          string `json:"id"`
	StoragePath string `json:"storage_path"`
}

// TicketFields are the structured columns extracted from a transcript.
// Every field is nullable; JSON names match the extraction schema.
type TicketFields struct {
	Branch             *string  `json:"Branch"`
	Name               *string  `json:"Name"`
	Category           []string `json:"Category"`
	CategoryOther      *string  `json:"Category_Other"`
	IssueDetails       *string  `json:"Issue_Details"`
	Status             *string  `json:"Status"`
	StatusOther        *string  `json:"Status_Other"`
	ActionTaken        *string  `json:"Action_Taken"`
	CustomerCareNotes  *string  `json:"Customer_Care_Notes"`
	ResolutionFeedback *string  `json:"Resolution_Feedback_From_Customer"`
	OrderType          *string  `json:"Order_Type"`
	OrderTypeOther     *string  `json:"Order_Type_Other"`
	TicketType         *string  `json:"Ticket_Type"`
	TicketTypeOther    *string  `json:"Ticket_Type_Other"`
	TableNo            *string  `json:"Table_No"`
	TokenNo            *string  `json:"Token_No"`
	BillNo             *string  `json:"Bill_No"`
	WaiterName         *string  `json:"Waiter_Name"`
	CaptainName        *string  `json:"Captain_Name"`
	StaffResponsible   *string  `json:"Staff_Responsible"`
	AISummary          *string  `json:"AI_Summary"`
	PreventiveAction   *string  `json:"Preventive_Action"`
}

// Recording is one uploaded audio file belonging to a ticket.
type Recording struct {
	ID            string    `json:"id"`
	TicketID      string    `json:"ticket_id"`
	FileName      string    `json:"file_name"`
	Role          Role      `json:"role"`
	RecordingTime time.Time `json:"recording_time"`

	// Transcription is written at most once; a non-nil value means the
	// recording is already done.
	Transcription *string `json:"transcription"`
}

// TicketError is one entry in a ticket's append-only failure log.
type TicketError struct {
	ID           string    `json:"id"`
	TicketID     string    `json:"ticket_id"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListOptions bounds ListTickets.
type ListOptions struct {
	// Limit caps the number of tickets returned. Zero means DefaultListLimit.
	Limit int
}

// DefaultListLimit is used when ListOptions.Limit is zero.
const DefaultListLimit = 100

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// TicketStore is the persistence contract for tickets, recordings and
// ticket errors. Methods are safe for concurrent use.
//
// Get methods return (nil, nil) when the row does not exist. Updates
// against a missing ticket return an error wrapping ErrNotFound.
type TicketStore interface {
	// CreateTicket inserts a new ticket. Empty ID and CreatedAt are filled in.
	CreateTicket(ctx context.Context, t *Ticket) error

	// GetTicket returns nil, nil if the ticket does not exist.
	GetTicket(ctx context.Context, id string) (*Ticket, error)

	// ListTickets returns tickets newest first by CreatedAt.
	ListTickets(ctx context.Context, opts ListOptions) ([]*Ticket, error)

	// ClaimTicket moves a pending or failed ticket to processing. It
	// returns false without changing anything when the ticket is in any
	// other state.
	ClaimTicket(ctx context.Context, id string) (bool, error)

	// SetTicketStatus writes status unconditionally.
	SetTicketStatus(ctx context.Context, id string, status Status) error

	// SetTicketTranscription stores the combined transcript.
	SetTicketTranscription(ctx context.Context, id, text string) error

	// CompleteTicket stores the extracted fields and raw payload and sets
	// status done.
	CompleteTicket(ctx context.Context, id string, fields *TicketFields, raw json.RawMessage) error

	// CreateRecordings inserts recordings in bulk. Empty IDs are filled in.
	CreateRecordings(ctx context.Context, recs []*Recording) error

	// ListRecordings returns a ticket's recordings by ascending RecordingTime.
	ListRecordings(ctx context.Context, ticketID string) ([]*Recording, error)

	// SetRecordingTranscription stores the transcript of one recording.
	SetRecordingTranscription(ctx context.Context, ticketID, recordingID, text string) error

	// AppendTicketError adds a row to the ticket's failure log.
	AppendTicketError(ctx context.Context, ticketID, msg string) error

	// ListTicketErrors returns the failure log newest first.
	ListTicketErrors(ctx context.Context, ticketID string) ([]*TicketError, error)

	// ClearTicketErrors deletes the whole failure log and returns how many
	// rows were removed.
	ClearTicketErrors(ctx context.Context, ticketID string) (int, error)
}

// ErrNotFound is wrapped by updates that target a missing row.
var ErrNotFound = errors.New("not found")

// DecodeFields parses a normalized extraction payload into TicketFields.
func DecodeFields(raw json.RawMessage) (*TicketFields, error) {
	var f TicketFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode ticket fields: %w", err)
	}
	return &f, nil
}
