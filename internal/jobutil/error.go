// Package jobutil records ticket processing failures.
//
// A failure is persisted through one or more ErrorWriters (status flip,
// error log row). Every writer runs even if an earlier one fails, so a
// broken status write still leaves an error row behind.
package jobutil

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrorWriter persists one aspect of a failure for a ticket.
type ErrorWriter func(ctx context.Context, ticketID, errMsg string) error

// SetJobError logs the failure and runs every writer in order. The returned
// error joins all writer errors.
func SetJobError(ctx context.Context, ticketID, stage, msg string, writers ...ErrorWriter) error {
	log.Error().
		Str("ticketId", ticketID).
		Str("stage", stage).
		Str("error", msg).
		Msg("Ticket processing failed")

	var errs []error
	for _, write := range writers {
		if err := write(ctx, ticketID, msg); err != nil {
			log.Error().Err(err).Str("ticketId", ticketID).Msg("Failed to persist ticket failure")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
