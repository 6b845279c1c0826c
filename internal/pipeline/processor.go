// Package pipeline turns a pending ticket into a completed one: transcribe
// every recording in time order, combine the transcripts, extract the
// ticket fields and write the result back.
//
// Every step that produces data persists it before the next step runs.
// Recordings that already carry a transcription are not sent again, so a
// retry after a failure resumes where the last run stopped.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/jobutil"
	"github.com/fpang/incident-tickets/internal/jsonutil"
	"github.com/fpang/incident-tickets/internal/metrics"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

var (
	// ErrNoRecordings fails a run for a ticket without recording rows.
	ErrNoRecordings = errors.New("no recordings found")

	// ErrEmptyTranscript fails a run whose combined transcript is blank.
	ErrEmptyTranscript = errors.New("combined transcript is empty")
)

// Transcriber turns one recording into labeled plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

// Extractor returns the ticket fields for a combined transcript as a JSON
// object with string nulls already normalized.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (json.RawMessage, error)
}

// Notifier is told about terminal status changes.
type Notifier interface {
	TicketStatusChanged(ctx context.Context, ticketID string, status store.Status, errMsg string) error
}

// Exporter receives every ticket that reaches done.
type Exporter interface {
	ExportTicket(ctx context.Context, t *store.Ticket) error
}

// Outcome reports how one Process call ended.
type Outcome struct {
	TicketID string       `json:"ticketId"`
	Status   store.Status `json:"status,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
	Failed   bool         `json:"failed,omitempty"`
	Err      string       `json:"error,omitempty"`
}

// Processor runs the ticket pipeline. It holds no per-ticket state and is
// safe to share.
type Processor struct {
	store       store.TicketStore
	gateway     storage.Gateway
	transcriber Transcriber
	extractor   Extractor
	notifier    Notifier
	exporter    Exporter
}

// NewProcessor wires the required collaborators.
func NewProcessor(st store.TicketStore, gw storage.Gateway, tr Transcriber, ex Extractor) *Processor {
	return &Processor{store: st, gateway: gw, transcriber: tr, extractor: ex}
}

// WithNotifier publishes done and failed transitions through n.
func (p *Processor) WithNotifier(n Notifier) *Processor {
	p.notifier = n
	return p
}

// WithExporter hands completed tickets to e.
func (p *Processor) WithExporter(e Exporter) *Processor {
	p.exporter = e
	return p
}

// stageError tags a failure with the step that raised it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// Process claims the ticket and runs it to done or failed. Failures are
// recorded on the ticket and returned in the Outcome, never as a Go error,
// so the caller can acknowledge the trigger either way. A ticket that is
// already processing or done is left untouched.
func (p *Processor) Process(ctx context.Context, ref store.TicketRef) *Outcome {
	start := time.Now()
	out := &Outcome{TicketID: ref.ID}
	logger := log.With().Str("ticketId", ref.ID).Logger()

	claimed, err := p.store.ClaimTicket(ctx, ref.ID)
	if err != nil {
		return p.claimFailed(ctx, ref.ID, err)
	}
	if !claimed {
		logger.Info().Msg("Ticket is not claimable, skipping")
		metrics.Ticket("process").Count("TicketsSkipped").Flush()
		out.Skipped = true
		return out
	}
	logger.Info().Str("storagePath", ref.StoragePath).Msg("Ticket claimed for processing")
	err = p.run(ctx, ref)

	m := metrics.Ticket("process").Since("ProcessMs", start).Property("ticketId", ref.ID)
	if err != nil {
		stage := "run"
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
		}
		msg := err.Error()
		_ = jobutil.SetJobError(ctx, ref.ID, stage, msg,
			func(ctx context.Context, id, _ string) error {
				return p.store.SetTicketStatus(ctx, id, store.StatusFailed)
			},
			p.store.AppendTicketError,
		)
		p.notify(ctx, ref.ID, store.StatusFailed, msg)
		m.Dimension("Stage", stage).Count("TicketsFailed").Flush()
		out.Failed = true
		out.Status = store.StatusFailed
		out.Err = msg
		return out
	}

	m.Count("TicketsDone").Flush()
	logger.Info().Dur("duration", time.Since(start)).Msg("Ticket processing complete")
	p.notify(ctx, ref.ID, store.StatusDone, "")
	p.export(ctx, ref.ID)
	out.Status = store.StatusDone
	return out
}

// claimFailed reports a claim that could not be evaluated. The ticket was
// never processing, so its status is left as is; an existing ticket gets an
// error row so the failure is visible.
func (p *Processor) claimFailed(ctx context.Context, id string, err error) *Outcome {
	msg := fmt.Sprintf("claim ticket: %v", err)
	var writers []jobutil.ErrorWriter
	if !errors.Is(err, store.ErrNotFound) {
		writers = append(writers, p.store.AppendTicketError)
	}
	_ = jobutil.SetJobError(ctx, id, "claim", msg, writers...)
	metrics.Ticket("process").Dimension("Stage", "claim").Count("TicketsFailed").Flush()
	return &Outcome{TicketID: id, Failed: true, Err: msg}
}

func (p *Processor) run(ctx context.Context, ref store.TicketRef) error {
	recs, err := p.store.ListRecordings(ctx, ref.ID)
	if err != nil {
		return fail("recordings", fmt.Errorf("list recordings: %w", err))
	}
	if len(recs) == 0 {
		return fail("recordings", fmt.Errorf("%w for ticket %s", ErrNoRecordings, ref.ID))
	}

	for _, rec := range recs {
		if err := p.transcribe(ctx, ref, rec); err != nil {
			return fail("transcribe", err)
		}
	}

	transcript := CombineTranscripts(recs)
	if transcript == "" || !hasSpeech(recs) {
		return fail("combine", fmt.Errorf("%w for ticket %s", ErrEmptyTranscript, ref.ID))
	}
	if err := p.store.SetTicketTranscription(ctx, ref.ID, transcript); err != nil {
		return fail("save_transcript", fmt.Errorf("save transcript: %w", err))
	}

	raw, err := p.extractor.Extract(ctx, transcript)
	if err != nil {
		return fail("extract", fmt.Errorf("extract fields: %w", err))
	}
	// Extractors normalize already; repeat it so every implementation
	// writes the same shape.
	raw, err = jsonutil.NormalizeObject(raw)
	if err != nil {
		return fail("extract", fmt.Errorf("extract fields: %w", err))
	}
	fields, err := store.DecodeFields(raw)
	if err != nil {
		return fail("extract", err)
	}

	if err := p.store.CompleteTicket(ctx, ref.ID, fields, raw); err != nil {
		return fail("complete", fmt.Errorf("save fields: %w", err))
	}
	return nil
}

// transcribe fills rec.Transcription, downloading and transcribing only when
// no earlier run has done so.
func (p *Processor) transcribe(ctx context.Context, ref store.TicketRef, rec *store.Recording) error {
	logger := log.With().Str("ticketId", ref.ID).Str("recordingId", rec.ID).Str("file", rec.FileName).Logger()
	if rec.Transcription != nil {
		logger.Debug().Msg("Reusing existing transcription")
		return nil
	}

	key := storage.RecordingKey(ref.StoragePath, rec.FileName)
	audio, err := p.gateway.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}

	start := time.Now()
	text, err := p.transcriber.Transcribe(ctx, audio, rec.FileName)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", rec.FileName, err)
	}
	text = strings.TrimSpace(text)
	if err := p.store.SetRecordingTranscription(ctx, ref.ID, rec.ID, text); err != nil {
		return fmt.Errorf("save transcription for %s: %w", rec.FileName, err)
	}
	rec.Transcription = &text
	logger.Info().Int("length", len(text)).Dur("duration", time.Since(start)).Msg("Recording transcribed")
	return nil
}

func (p *Processor) notify(ctx context.Context, id string, status store.Status, errMsg string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.TicketStatusChanged(ctx, id, status, errMsg); err != nil {
		log.Warn().Err(err).Str("ticketId", id).Str("status", string(status)).Msg("Failed to publish status event")
	}
}

func (p *Processor) export(ctx context.Context, id string) {
	if p.exporter == nil {
		return
	}
	t, err := p.store.GetTicket(ctx, id)
	if err != nil || t == nil {
		log.Warn().Err(err).Str("ticketId", id).Msg("Failed to reload ticket for export")
		return
	}
	if err := p.exporter.ExportTicket(ctx, t); err != nil {
		log.Warn().Err(err).Str("ticketId", id).Msg("Failed to export ticket")
	}
}
