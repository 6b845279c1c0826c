package lambdaboot

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/assemblyai"
	"github.com/fpang/incident-tickets/internal/chat"
	"github.com/fpang/incident-tickets/internal/dispatch"
	"github.com/fpang/incident-tickets/internal/events"
	"github.com/fpang/incident-tickets/internal/pipeline"
	"github.com/fpang/incident-tickets/internal/sheets"
)

const (
	EnvTranscriber     = "TRANSCRIBER"
	EnvProcessSFN      = "PROCESS_SFN_ARN"
	EnvProcessLambda   = "PROCESS_LAMBDA_ARN"
	EnvEventBus        = "EVENT_BUS_NAME"
	EnvSpreadsheetID   = "SPREADSHEET_ID"
	EnvSheetsCreds     = "GOOGLE_SERVICE_ACCOUNT_JSON"
	EnvSheetsCredParam = "SSM_SHEETS_CREDENTIALS_PARAM"
)

// InitTranscriber returns the transcriber selected by TRANSCRIBER:
// "gemini" (default) reuses gen; "assemblyai" loads its key from SSM.
func InitTranscriber(client ParameterGetter, gen chat.ContentGenerator, model string) pipeline.Transcriber {
	switch name := os.Getenv(EnvTranscriber); name {
	case "", "gemini":
		return chat.NewGeminiTranscriber(gen, model)
	case "assemblyai":
		key, err := LoadSecret(context.Background(), client, "ASSEMBLYAI_API_KEY", "SSM_ASSEMBLYAI_KEY_PARAM", "/incident-tickets/prod/assemblyai-api-key")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AssemblyAI API key")
		}
		return assemblyai.New(key)
	default:
		log.Fatal().Str("transcriber", name).Msg("Unknown TRANSCRIBER (want gemini or assemblyai)")
		return nil
	}
}

// InitDispatcher returns a Step Functions dispatcher when PROCESS_SFN_ARN
// is set, otherwise a Lambda dispatcher for PROCESS_LAMBDA_ARN. Returns nil
// (with a warning) when neither is configured.
func InitDispatcher(cfg aws.Config) dispatch.Dispatcher {
	if arn := os.Getenv(EnvProcessSFN); arn != "" {
		return dispatch.NewStepFunctionsDispatcher(sfn.NewFromConfig(cfg), arn)
	}
	if arn := os.Getenv(EnvProcessLambda); arn != "" {
		return dispatch.NewLambdaDispatcher(lambda.NewFromConfig(cfg), arn)
	}
	log.Warn().Msg("No processing target configured, tickets will stay pending until retried")
	return nil
}

// InitEvents returns an EventBridge emitter when EVENT_BUS_NAME is set.
func InitEvents(cfg aws.Config) *events.Emitter {
	bus := os.Getenv(EnvEventBus)
	if bus == "" {
		log.Debug().Msg("EVENT_BUS_NAME not set, status events disabled")
		return nil
	}
	return events.NewEmitter(eventbridge.NewFromConfig(cfg), bus)
}

// InitSheets returns a Google Sheets appender when SPREADSHEET_ID is set.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON or the SSM parameter
// named by SSM_SHEETS_CREDENTIALS_PARAM. Non-fatal: returns nil with a
// warning when credentials are unavailable.
func InitSheets(client ParameterGetter) *sheets.Appender {
	id := os.Getenv(EnvSpreadsheetID)
	if id == "" {
		return nil
	}
	ctx := context.Background()
	creds, err := LoadSecret(ctx, client, EnvSheetsCreds, EnvSheetsCredParam, "")
	if err != nil {
		log.Warn().Err(err).Msg("Sheets credentials not available, sheet export disabled")
		return nil
	}
	app, err := sheets.New(ctx, []byte(creds), id)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create Sheets client, sheet export disabled")
		return nil
	}
	return app
}
