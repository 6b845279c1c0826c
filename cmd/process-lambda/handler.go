package main

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/dispatch"
	"github.com/fpang/incident-tickets/internal/lambdaboot"
)

const (
	processedMessage = "Ticket processed successfully"
	skippedMessage   = "Ticket is already processing or done, skipping."
)

// handle runs one ticket. Every outcome that reached the processor is a
// 200; the body carries {message} or {error}.
func handle(ctx context.Context, r dispatch.Runner, event dispatch.ProcessEvent) lambdaboot.Response {
	ref := event.Record
	if ref.ID == "" {
		return lambdaboot.Error(http.StatusBadRequest, "record.id is required")
	}
	log.Info().
		Str("ticketId", ref.ID).
		Str("storagePath", ref.StoragePath).
		Msg("Process Lambda invoked")

	out := r.Process(ctx, ref)
	switch {
	case out.Failed:
		return lambdaboot.Error(http.StatusOK, out.Err)
	case out.Skipped:
		return lambdaboot.Message(http.StatusOK, skippedMessage)
	default:
		return lambdaboot.Message(http.StatusOK, processedMessage)
	}
}
