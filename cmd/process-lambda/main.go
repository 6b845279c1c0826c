// Package main provides a Lambda entry point for ticket processing.
//
// Invoked asynchronously by the ingest Lambda, by the Step Functions
// pipeline, or by a retry from the API, with {"record": {"id", "storage_path"}}.
// It claims the ticket, transcribes each recording, combines the transcript,
// extracts the structured incident fields and marks the ticket done. A
// failed ticket still returns 200 so the trigger is not retried; the error
// is recorded on the ticket instead.
//
// Memory: 1 GB
// Timeout: 10 minutes
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/chat"
	"github.com/fpang/incident-tickets/internal/dispatch"
	"github.com/fpang/incident-tickets/internal/lambdaboot"
	"github.com/fpang/incident-tickets/internal/logging"
	"github.com/fpang/incident-tickets/internal/pipeline"
)

var coldStart = true

var processor *pipeline.Processor

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	gateway := lambdaboot.InitStorage(awsClients.Config)
	ticketStore := lambdaboot.InitTicketStore(awsClients.Config)

	apiKey := lambdaboot.LoadGeminiKey(awsClients.SSM)
	client, err := chat.NewGeminiClient(context.Background(), apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	model := chat.GetModelName()
	transcriber := lambdaboot.InitTranscriber(awsClients.SSM, client.Models, model)

	processor = pipeline.NewProcessor(ticketStore, gateway, transcriber, chat.NewGeminiExtractor(client.Models, model))
	emitter := lambdaboot.InitEvents(awsClients.Config)
	if emitter != nil {
		processor.WithNotifier(emitter)
	}
	sheet := lambdaboot.InitSheets(awsClients.SSM)
	if sheet != nil {
		processor.WithExporter(sheet)
	}

	lambdaboot.StartupLog("process-lambda", initStart).
		Bucket("recordings", gateway.Bucket()).
		Config("ticketStore", logging.EnvOrDefault(lambdaboot.EnvTicketStore, "dataapi")).
		Config("model", model).
		Config("transcriber", logging.EnvOrDefault(lambdaboot.EnvTranscriber, "gemini")).
		SSMParam("geminiApiKey", logging.EnvOrDefault("SSM_API_KEY_PARAM", "/incident-tickets/prod/gemini-api-key")).
		EventBus("status", os.Getenv(lambdaboot.EnvEventBus)).
		Feature("statusEvents", emitter != nil).
		Feature("sheetExport", sheet != nil).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event dispatch.ProcessEvent) (lambdaboot.Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "process-lambda").Msg("Cold start: first invocation")
	}
	return handle(ctx, processor, event), nil
}
