// Package events publishes ticket status changes to EventBridge so other
// systems (alerts, dashboards) can react without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/store"
)

const (
	Source                 = "incident-tickets"
	DetailTypeStatusChange = "TicketStatusChanged"
)

// StatusChanged is the event detail.
type StatusChanged struct {
	TicketID string       `json:"ticketId"`
	Status   store.Status `json:"status"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Emitter sends StatusChanged events to one bus.
type Emitter struct {
	client PutEventsAPI
	bus    string
	now    func() time.Time
}

func NewEmitter(client PutEventsAPI, busName string) *Emitter {
	return &Emitter{client: client, bus: busName, now: time.Now}
}

// TicketStatusChanged publishes one event. It satisfies the processor's
// notifier contract.
func (e *Emitter) TicketStatusChanged(ctx context.Context, ticketID string, status store.Status, errMsg string) error {
	detail, err := json.Marshal(StatusChanged{
		TicketID: ticketID,
		Status:   status,
		Error:    errMsg,
		At:       e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal StatusChanged: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(e.bus),
				Source:       aws.String(Source),
				DetailType:   aws.String(DetailTypeStatusChange),
				Detail:       aws.String(string(detail)),
			},
		},
	}

	result, err := e.client.PutEvents(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("ticketId", ticketID).Str("status", string(status)).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("ticketId", ticketID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("ticketId", ticketID).Str("status", string(status)).Msg("TicketStatusChanged emitted to EventBridge")
	return nil
}
