// Package main provides a Lambda entry point for the ticket client API.
//
// Endpoints:
//
//	GET  /api/health                      health check
//	GET  /api/tickets?limit=N             newest-first tickets
//	GET  /api/tickets/{id}                one ticket
//	GET  /api/tickets/{id}/recordings     recordings, oldest first
//	GET  /api/tickets/{id}/errors         error log, newest first
//	POST /api/tickets/{id}/retry          re-dispatch a pending or failed ticket
//	POST /api/tickets/{id}/clear-errors   delete the error log
//	POST /api/tickets/{id}/export         zip bundle and presigned download URL
//	POST /api/incidents/upload-url        presigned PUT URLs for a new incident
//	POST /api/sheet/append                append a file name to the incident sheet
//	POST /api/webhooks/ticket-inserted    signed database insert webhook
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/incident-tickets/internal/api"
	"github.com/fpang/incident-tickets/internal/lambdaboot"
	"github.com/fpang/incident-tickets/internal/logging"
)

func main() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	gateway := lambdaboot.InitStorage(awsClients.Config)
	ticketStore := lambdaboot.InitTicketStore(awsClients.Config)
	dispatcher := lambdaboot.InitDispatcher(awsClients.Config)

	cfg := api.Config{
		Store:        ticketStore,
		Storage:      gateway,
		Dispatcher:   dispatcher,
		OriginSecret: os.Getenv("ORIGIN_VERIFY_SECRET"),
	}
	if secret, err := lambdaboot.LoadSecret(context.Background(), awsClients.SSM, "WEBHOOK_SECRET", "SSM_WEBHOOK_SECRET_PARAM", ""); err == nil {
		cfg.WebhookSecret = secret
	}
	sheet := lambdaboot.InitSheets(awsClients.SSM)
	if sheet != nil {
		cfg.Sheet = sheet
	}
	handler := api.New(cfg).Handler()

	lambdaboot.StartupLog("api-lambda", initStart).
		Bucket("recordings", gateway.Bucket()).
		Config("ticketStore", logging.EnvOrDefault(lambdaboot.EnvTicketStore, "dataapi")).
		Feature("originVerify", cfg.OriginSecret != "").
		Feature("retry", dispatcher != nil).
		Feature("insertWebhook", cfg.WebhookSecret != "" && dispatcher != nil).
		Feature("sheetAppend", sheet != nil).
		Log()

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
