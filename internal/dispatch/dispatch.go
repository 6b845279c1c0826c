// Package dispatch starts the ticket processor for a ticket, either by
// invoking the processing Lambda, by starting a Step Functions execution,
// or in-process.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/pipeline"
	"github.com/fpang/incident-tickets/internal/store"
)

// Dispatcher starts processing for one ticket without waiting for it,
// except InlineDispatcher which runs to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref store.TicketRef) error
}

// ProcessEvent is the payload the processing function is invoked with.
type ProcessEvent struct {
	Record store.TicketRef `json:"record"`
}

// LambdaInvoker is the subset of the Lambda client used here.
type LambdaInvoker interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaDispatcher invokes the processing Lambda asynchronously.
type LambdaDispatcher struct {
	client      LambdaInvoker
	functionARN string
}

func NewLambdaDispatcher(client LambdaInvoker, functionARN string) *LambdaDispatcher {
	return &LambdaDispatcher{client: client, functionARN: functionARN}
}

func (d *LambdaDispatcher) Dispatch(ctx context.Context, ref store.TicketRef) error {
	payload, err := json.Marshal(ProcessEvent{Record: ref})
	if err != nil {
		return fmt.Errorf("marshal process event: %w", err)
	}
	_, err = d.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(d.functionARN),
		InvocationType: lambdatypes.InvocationTypeEvent, // async, returns 202 immediately
		Payload:        payload,
	})
	if err != nil {
		log.Error().Err(err).Str("ticketId", ref.ID).Msg("Failed to invoke process Lambda")
		return fmt.Errorf("invoke process lambda: %w", err)
	}
	log.Debug().Str("ticketId", ref.ID).Msg("Process Lambda invoked asynchronously")
	return nil
}

// ExecutionStarter is the subset of the Step Functions client used here.
type ExecutionStarter interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctionsDispatcher starts a state machine execution per attempt.
type StepFunctionsDispatcher struct {
	client          ExecutionStarter
	stateMachineARN string
	now             func() time.Time
}

func NewStepFunctionsDispatcher(client ExecutionStarter, stateMachineARN string) *StepFunctionsDispatcher {
	return &StepFunctionsDispatcher{client: client, stateMachineARN: stateMachineARN, now: time.Now}
}

// ExecutionName names one processing attempt: ticket-{id}-{unix seconds}.
func ExecutionName(id string, at time.Time) string {
	return fmt.Sprintf("ticket-%s-%d", id, at.Unix())
}

func (d *StepFunctionsDispatcher) Dispatch(ctx context.Context, ref store.TicketRef) error {
	input, err := json.Marshal(ProcessEvent{Record: ref})
	if err != nil {
		return fmt.Errorf("marshal process event: %w", err)
	}
	name := ExecutionName(ref.ID, d.now())
	_, err = d.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(d.stateMachineARN),
		Input:           aws.String(string(input)),
		Name:            aws.String(name),
	})
	if err != nil {
		log.Error().Err(err).Str("ticketId", ref.ID).Msg("Failed to start processing pipeline")
		return fmt.Errorf("start execution: %w", err)
	}
	log.Info().Str("ticketId", ref.ID).Str("execution", name).Msg("Processing pipeline started via Step Functions")
	return nil
}

// Runner is satisfied by *pipeline.Processor.
type Runner interface {
	Process(ctx context.Context, ref store.TicketRef) *pipeline.Outcome
}

// InlineDispatcher runs the processor in the caller's goroutine. A failed
// ticket is not a dispatch error; the failure is already on the ticket.
type InlineDispatcher struct {
	runner Runner
}

func NewInlineDispatcher(r Runner) *InlineDispatcher {
	return &InlineDispatcher{runner: r}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, ref store.TicketRef) error {
	out := d.runner.Process(ctx, ref)
	log.Info().
		Str("ticketId", ref.ID).
		Str("status", string(out.Status)).
		Bool("skipped", out.Skipped).
		Str("error", out.Err).
		Msg("Inline processing finished")
	return nil
}
