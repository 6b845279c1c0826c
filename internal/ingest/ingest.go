// Package ingest turns an uploaded incident manifest into a pending ticket
// with one recording row per audio file.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/metrics"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

// SkipMessage is returned for objects that are not manifests.
const SkipMessage = "Not an incident details file, skipping."

// Dispatcher starts processing for a freshly ingested ticket.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref store.TicketRef) error
}

// Result describes what Ingest did with one object.
type Result struct {
	Skipped     bool   `json:"skipped,omitempty"`
	Message     string `json:"message"`
	TicketID    string `json:"ticketId,omitempty"`
	StoragePath string `json:"storagePath,omitempty"`
	Recordings  int    `json:"recordings,omitempty"`
}

// Ingester creates tickets from manifests.
type Ingester struct {
	store      store.TicketStore
	gateway    storage.Gateway
	dispatcher Dispatcher
}

// NewIngester returns an Ingester without a dispatcher.
func NewIngester(st store.TicketStore, gw storage.Gateway) *Ingester {
	return &Ingester{store: st, gateway: gw}
}

// WithDispatcher makes Ingest start processing for each ticket it creates.
func (in *Ingester) WithDispatcher(d Dispatcher) *Ingester {
	in.dispatcher = d
	return in
}

// Ingest reads the manifest at key and inserts its ticket and recordings.
// Store errors abort the run; rows already written are left in place.
func (in *Ingester) Ingest(ctx context.Context, key string) (*Result, error) {
	if !IsManifestKey(key) {
		log.Debug().Str("key", key).Msg("Ignoring non-manifest object")
		return &Result{Skipped: true, Message: SkipMessage}, nil
	}

	start := time.Now()
	data, err := in.gateway.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download manifest %s: %w", key, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", key, err)
	}

	ticket := &store.Ticket{
		StoragePath:  storage.ParentDir(key),
		IncidentTime: m.IncidentAt(),
		Status:       store.StatusPending,
	}
	if err := in.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	recs := m.Recordings(ticket.ID)
	if len(recs) > 0 {
		if err := in.store.CreateRecordings(ctx, recs); err != nil {
			return nil, fmt.Errorf("create recordings for ticket %s: %w", ticket.ID, err)
		}
	}

	log.Info().
		Str("ticketId", ticket.ID).
		Str("storagePath", ticket.StoragePath).
		Int("recordings", len(recs)).
		Time("incidentTime", ticket.IncidentTime).
		Msg("Ticket ingested")
	metrics.Ticket("ingest").
		Count("TicketsIngested").
		Metric("RecordingsIngested", float64(len(recs)), metrics.UnitCount).
		Since("IngestMs", start).
		Property("ticketId", ticket.ID).
		Flush()

	if in.dispatcher != nil {
		if err := in.dispatcher.Dispatch(ctx, ticket.Ref()); err != nil {
			log.Warn().Err(err).Str("ticketId", ticket.ID).Msg("Failed to dispatch processing; ticket left pending")
		}
	}

	return &Result{
		Message:     fmt.Sprintf("Ticket %s created with %d recordings.", ticket.ID, len(recs)),
		TicketID:    ticket.ID,
		StoragePath: ticket.StoragePath,
		Recordings:  len(recs),
	}, nil
}

// UnescapeKey decodes an S3 event object key, which arrives URL-encoded
// with spaces as '+'.
func UnescapeKey(key string) string {
	if k, err := url.QueryUnescape(key); err == nil {
		return k
	}
	return key
}
