// Package sheets appends rows to the incident log spreadsheet in Google
// Sheets.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/fpang/incident-tickets/internal/store"
)

// DefaultRange is where rows are appended; Sheets finds the end of the
// table from this anchor.
const DefaultRange = "Sheet1!A1"

// IST is India Standard Time. It has no daylight saving, so a fixed zone
// avoids depending on tzdata in the Lambda image.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// timeLayout renders like en-IN locale strings: 14/11/2023, 10:13:20 pm.
const timeLayout = "02/01/2006, 3:04:05 pm"

// FormatIST renders t in the spreadsheet's time format.
func FormatIST(t time.Time) string {
	return t.In(IST).Format(timeLayout)
}

// Appender writes rows to one spreadsheet.
type Appender struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	rng           string
	now           func() time.Time
}

// New creates an Appender authenticated with a service account key.
func New(ctx context.Context, credentialsJSON []byte, spreadsheetID string) (*Appender, error) {
	svc, err := sheetsapi.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID), nil
}

// NewWithService wraps an existing Sheets client.
func NewWithService(svc *sheetsapi.Service, spreadsheetID string) *Appender {
	return &Appender{svc: svc, spreadsheetID: spreadsheetID, rng: DefaultRange, now: time.Now}
}

// AppendRow appends one row, letting Sheets parse values as if typed.
func (a *Appender) AppendRow(ctx context.Context, values ...interface{}) error {
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{values}}
	_, err := a.svc.Spreadsheets.Values.Append(a.spreadsheetID, a.rng, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to sheet: %w", err)
	}
	log.Debug().Int("columns", len(values)).Msg("Row appended to sheet")
	return nil
}

// AppendFileName logs an uploaded file with the current IST time.
func (a *Appender) AppendFileName(ctx context.Context, fileName string) error {
	return a.AppendRow(ctx, FormatIST(a.now()), fileName)
}

// ExportTicket appends the summary row for a completed ticket. It satisfies
// the processor's exporter contract.
func (a *Appender) ExportTicket(ctx context.Context, t *store.Ticket) error {
	return a.AppendRow(ctx, TicketRow(t)...)
}

// TicketRow is the summary row for a ticket: incident time, ticket id,
// branch, categories, ticket type, incident status and summary.
func TicketRow(t *store.Ticket) []interface{} {
	f := t.Fields
	if f == nil {
		f = &store.TicketFields{}
	}
	return []interface{}{
		FormatIST(t.IncidentTime),
		t.ID,
		deref(f.Branch),
		strings.Join(f.Category, ", "),
		deref(f.TicketType),
		deref(f.Status),
		deref(f.AISummary),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
