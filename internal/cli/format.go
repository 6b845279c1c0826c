package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fpang/incident-tickets/internal/statusview"
	"github.com/fpang/incident-tickets/internal/store"
)

// FormatAge formats the time since t in a short form: 45s, 12m, 3h, 2d.
func FormatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// TicketSummary is the one-line description shown in lists: branch,
// categories and the extracted summary once the ticket is done.
func TicketSummary(t *store.Ticket) string {
	if t.Fields == nil {
		return "-"
	}
	parts := []string{deref(t.Fields.Branch)}
	if len(t.Fields.Category) > 0 {
		parts = append(parts, strings.Join(t.Fields.Category, ", "))
	}
	if t.Fields.AISummary != nil {
		parts = append(parts, *t.Fields.AISummary)
	}
	return strings.Join(parts, " | ")
}

// PrintTickets writes an aligned ticket table.
func PrintTickets(w io.Writer, tickets []*store.Ticket, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAGE\tINCIDENT\tSUMMARY")
	for _, t := range tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, FormatAge(now, t.CreatedAt),
			t.IncidentTime.Local().Format("2006-01-02 15:04"), TicketSummary(t))
	}
	tw.Flush()
}

// PrintDetails writes an expanded ticket: fields, recordings and, for
// failed tickets, the error log.
func PrintDetails(w io.Writer, d *statusview.TicketDetails) {
	t := d.Ticket
	fmt.Fprintf(w, "Ticket:   %s\n", t.ID)
	fmt.Fprintf(w, "Status:   %s\n", t.Status)
	fmt.Fprintf(w, "Incident: %s\n", t.IncidentTime.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Storage:  %s\n", t.StoragePath)

	if f := t.Fields; f != nil {
		fmt.Fprintln(w, "--------------------------------------------")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Branch\t%s\n", deref(f.Branch))
		fmt.Fprintf(tw, "Category\t%s\n", strings.Join(f.Category, ", "))
		fmt.Fprintf(tw, "Ticket type\t%s\n", deref(f.TicketType))
		fmt.Fprintf(tw, "Order type\t%s\n", deref(f.OrderType))
		fmt.Fprintf(tw, "Customer\t%s\n", deref(f.Name))
		fmt.Fprintf(tw, "Summary\t%s\n", deref(f.AISummary))
		tw.Flush()
	}

	fmt.Fprintln(w, "--------------------------------------------")
	fmt.Fprintf(w, "Recordings (%d):\n", len(d.Recordings))
	for i, r := range d.Recordings {
		state := "pending"
		if r.Transcription != nil {
			state = "transcribed"
		}
		fmt.Fprintf(w, "  %d. [%s] %s  %s  (%s)\n", i+1, r.Role, r.FileName,
			r.RecordingTime.Local().Format("15:04:05"), state)
	}

	if len(d.Errors) > 0 {
		fmt.Fprintln(w, "--------------------------------------------")
		fmt.Fprintf(w, "Errors (%d, newest first):\n", len(d.Errors))
		for _, e := range d.Errors {
			fmt.Fprintf(w, "  %s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.ErrorMessage)
		}
	}
}
