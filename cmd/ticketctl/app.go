package main

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/chat"
	"github.com/fpang/incident-tickets/internal/dispatch"
	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/lambdaboot"
	"github.com/fpang/incident-tickets/internal/pipeline"
	"github.com/fpang/incident-tickets/internal/statusview"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

// app holds the backends one ticketctl invocation works against.
type app struct {
	store      store.TicketStore
	gateway    storage.Gateway
	params     lambdaboot.ParameterGetter
	dispatcher statusview.Dispatcher

	once      sync.Once
	processor *pipeline.Processor
}

// noSSM stands in for Parameter Store in --local mode.
type noSSM struct{}

func (noSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return nil, errors.New("SSM is not available with --local; set the secret in the environment")
}

func newApp() *app {
	a := &app{}
	if localFlag {
		a.store = store.NewMemoryStore()
		a.gateway = storage.NewMemoryGateway(storage.DefaultBucket)
		a.params = noSSM{}
		a.dispatcher = dispatch.NewInlineDispatcher(a)
		return a
	}

	awsClients := lambdaboot.InitAWS()
	a.store = lambdaboot.InitTicketStore(awsClients.Config)
	a.gateway = lambdaboot.InitStorage(awsClients.Config)
	a.params = awsClients.SSM
	if !inlineFlag {
		if d := lambdaboot.InitDispatcher(awsClients.Config); d != nil {
			a.dispatcher = d
			return a
		}
	}
	a.dispatcher = dispatch.NewInlineDispatcher(a)
	return a
}

// Process builds the processor on first use so commands that never
// process do not need a Gemini key.
func (a *app) Process(ctx context.Context, ref store.TicketRef) *pipeline.Outcome {
	a.once.Do(func() {
		apiKey, err := lambdaboot.LoadSecret(ctx, a.params, "GEMINI_API_KEY", "SSM_API_KEY_PARAM", "/incident-tickets/prod/gemini-api-key")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load Gemini API key")
		}
		client, err := chat.NewGeminiClient(ctx, apiKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		model := chat.GetModelName()
		a.processor = pipeline.NewProcessor(a.store, a.gateway,
			lambdaboot.InitTranscriber(a.params, client.Models, model),
			chat.NewGeminiExtractor(client.Models, model))
	})
	return a.processor.Process(ctx, ref)
}

func (a *app) actions() *statusview.Actions {
	return statusview.NewActions(a.store, a.dispatcher)
}

func (a *app) ingester() *ingest.Ingester {
	return ingest.NewIngester(a.store, a.gateway).WithDispatcher(a.dispatcher)
}

// loadTicket returns the ticket or store.ErrNotFound.
func (a *app) loadTicket(ctx context.Context, id string) (*store.Ticket, error) {
	t, err := a.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, store.ErrNotFound
	}
	return t, nil
}
