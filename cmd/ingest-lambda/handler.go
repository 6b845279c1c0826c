package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/lambdaboot"
)

// IngestEvent accepts both an S3 notification and a direct invoke payload.
type IngestEvent struct {
	Records []events.S3EventRecord `json:"Records,omitempty"`
	Name    string                 `json:"name,omitempty"`
}

// Keys returns the object keys named by the event. S3 notification keys
// arrive URL-encoded and are unescaped here.
func (e IngestEvent) Keys() []string {
	var keys []string
	for _, r := range e.Records {
		keys = append(keys, ingest.UnescapeKey(r.S3.Object.Key))
	}
	if e.Name != "" {
		keys = append(keys, e.Name)
	}
	return keys
}

type keyIngester interface {
	Ingest(ctx context.Context, key string) (*ingest.Result, error)
}

// handle ingests every key in the event. The first failure ends the
// invocation with a 500; otherwise the last key's message is returned.
func handle(ctx context.Context, in keyIngester, event IngestEvent) lambdaboot.Response {
	keys := event.Keys()
	if len(keys) == 0 {
		return lambdaboot.Error(http.StatusBadRequest, "event names no object key")
	}

	msg := ""
	for _, key := range keys {
		res, err := in.Ingest(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Ingestion failed")
			return lambdaboot.Error(http.StatusInternalServerError, err.Error())
		}
		msg = res.Message
	}
	return lambdaboot.Message(http.StatusOK, msg)
}
