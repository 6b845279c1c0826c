// Package main provides a Lambda entry point for ticket ingestion.
//
// Triggered by S3 ObjectCreated events on the recordings bucket, or invoked
// directly with {"name": "<key>"}. Only incident_details.json manifests are
// ingested; every other key is skipped. Each manifest becomes one pending
// ticket plus one recording row per file, and processing is dispatched.
//
// Memory: 256 MB
// Timeout: 30 seconds
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/lambdaboot"
	"github.com/fpang/incident-tickets/internal/logging"
)

var coldStart = true

var ingester *ingest.Ingester

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	gateway := lambdaboot.InitStorage(awsClients.Config)
	ticketStore := lambdaboot.InitTicketStore(awsClients.Config)
	dispatcher := lambdaboot.InitDispatcher(awsClients.Config)

	ingester = ingest.NewIngester(ticketStore, gateway)
	if dispatcher != nil {
		ingester.WithDispatcher(dispatcher)
	}

	lambdaboot.StartupLog("ingest-lambda", initStart).
		Bucket("recordings", gateway.Bucket()).
		Config("storageBackend", logging.EnvOrDefault(lambdaboot.EnvStorageBackend, "s3")).
		Config("ticketStore", logging.EnvOrDefault(lambdaboot.EnvTicketStore, "dataapi")).
		StateMachine("process", os.Getenv(lambdaboot.EnvProcessSFN)).
		LambdaFunc("process", os.Getenv(lambdaboot.EnvProcessLambda)).
		Feature("dispatch", dispatcher != nil).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event IngestEvent) (lambdaboot.Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "ingest-lambda").Msg("Cold start: first invocation")
	}
	return handle(ctx, ingester, event), nil
}
