package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Single-table layout:
//
//	PK=TICKET#{id}  SK=META                     ticket row
//	PK=TICKET#{id}  SK=REC#{recordingId}        recording row
//	PK=TICKET#{id}  SK=ERR#{createdAt}#{id}     ticket error row
//	PK=TICKETS      SK=CREATED#{createdAt}#{id} newest-first index entry
const (
	pkTicketPrefix = "TICKET#"
	pkTicketIndex  = "TICKETS"
	skMeta         = "META"
	skRecording    = "REC#"
	skError        = "ERR#"
	skCreated      = "CREATED#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
	// maxBatchGet is the DynamoDB BatchGetItem limit per call.
	maxBatchGet = 100

	maxBatchAttempts = 5
)

// batchRetryDelay is the base backoff between unprocessed-item retries.
var batchRetryDelay = 100 * time.Millisecond

// sortableTime is fixed width so lexical SK order equals time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// DynamoStore implements TicketStore on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

var _ TicketStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// TableName returns the backing table, for startup logging.
func (s *DynamoStore) TableName() string {
	return s.tableName
}

type ticketItem struct {
	StoragePath   string  `dynamodbav:"storagePath"`
	IncidentTime  string  `dynamodbav:"incidentTime,omitempty"`
	CreatedAt     string  `dynamodbav:"createdAt"`
	Status        string  `dynamodbav:"status"`
	Transcription *string `dynamodbav:"transcription,omitempty"`
	ColumnsField  *string `dynamodbav:"columnsField,omitempty"`
}

type recordingItem struct {
	ID            string  `dynamodbav:"id"`
	FileName      string  `dynamodbav:"fileName"`
	Role          string  `dynamodbav:"role"`
	RecordingTime string  `dynamodbav:"recordingTime"`
	Transcription *string `dynamodbav:"transcription,omitempty"`
}

type errorItem struct {
	ID           string `dynamodbav:"id"`
	ErrorMessage string `dynamodbav:"errorMessage"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

type indexItem struct {
	TicketID string `dynamodbav:"ticketId"`
}

func ticketPK(id string) string {
	return pkTicketPrefix + id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sortableTime)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// marshalItem marshals data and adds the PK and SK attributes.
func marshalItem(pk, sk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	return item, nil
}

func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// query runs a key-condition query and follows pagination.
func (s *DynamoStore) query(ctx context.Context, pk, skPrefix string, forward bool, limit int32) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ScanIndexForward: aws.Bool(forward),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var items []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil || (limit > 0 && int32(len(items)) >= limit) {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	if limit > 0 && int32(len(items)) > limit {
		items = items[:limit]
	}
	return items, nil
}

// batchWrite sends put or delete requests in chunks of maxBatchWrite.
// Unprocessed items are resubmitted with backoff; items still unprocessed
// after maxBatchAttempts fail the call.
func (s *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += maxBatchWrite {
		end := i + maxBatchWrite
		if end > len(requests) {
			end = len(requests)
		}
		if err := s.batchWriteChunk(ctx, requests[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) batchWriteChunk(ctx context.Context, chunk []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: chunk}
	for attempt := 1; ; attempt++ {
		result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("BatchWriteItem (%d items): %w", len(pending[s.tableName]), err)
		}
		pending = result.UnprocessedItems
		left := len(pending[s.tableName])
		if left == 0 {
			return nil
		}
		if attempt == maxBatchAttempts {
			return fmt.Errorf("BatchWriteItem: %d of %d items unprocessed after %d attempts", left, len(chunk), attempt)
		}
		log.Warn().Int("unprocessed", left).Int("attempt", attempt).Msg("Retrying unprocessed DynamoDB writes")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * batchRetryDelay):
		}
	}
}

// update applies an UpdateExpression to an existing item. A missing item
// is reported as ErrNotFound.
func (s *DynamoStore) update(ctx context.Context, pk, sk, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(pk, sk),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("UpdateItem PK=%s SK=%s: %w", pk, sk, ErrNotFound)
		}
		return fmt.Errorf("UpdateItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// --- Tickets ---

func (s *DynamoStore) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}

	meta, err := marshalItem(ticketPK(t.ID), skMeta, ticketItem{
		StoragePath:  t.StoragePath,
		IncidentTime: formatTime(t.IncidentTime),
		CreatedAt:    formatTime(t.CreatedAt),
		Status:       string(t.Status),
	})
	if err != nil {
		return fmt.Errorf("create ticket %s: %w", t.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                meta,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("create ticket %s: %w", t.ID, err)
	}

	idx, err := marshalItem(pkTicketIndex, skCreated+formatTime(t.CreatedAt)+"#"+t.ID, indexItem{TicketID: t.ID})
	if err != nil {
		return fmt.Errorf("index ticket %s: %w", t.ID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: idx}); err != nil {
		return fmt.Errorf("index ticket %s: %w", t.ID, err)
	}

	log.Debug().Str("ticketId", t.ID).Str("storagePath", t.StoragePath).Msg("Ticket persisted to DynamoDB")
	return nil
}

func ticketFromItem(id string, it ticketItem) (*Ticket, error) {
	t := &Ticket{
		ID:            id,
		StoragePath:   it.StoragePath,
		IncidentTime:  parseTime(it.IncidentTime),
		CreatedAt:     parseTime(it.CreatedAt),
		Status:        Status(it.Status),
		Transcription: it.Transcription,
	}
	if it.ColumnsField != nil {
		t.ColumnsField = json.RawMessage(*it.ColumnsField)
		fields, err := DecodeFields(t.ColumnsField)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", id, err)
		}
		t.Fields = fields
	}
	return t, nil
}

func (s *DynamoStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var it ticketItem
	found, err := s.getItem(ctx, ticketPK(id), skMeta, &it)
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return ticketFromItem(id, it)
}

func (s *DynamoStore) ListTickets(ctx context.Context, opts ListOptions) ([]*Ticket, error) {
	entries, err := s.query(ctx, pkTicketIndex, skCreated, false, int32(opts.limit()))
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		var idx indexItem
		if err := attributevalue.UnmarshalMap(e, &idx); err != nil {
			return nil, fmt.Errorf("list tickets: unmarshal index: %w", err)
		}
		ids = append(ids, idx.TicketID)
	}

	byID := make(map[string]*Ticket, len(ids))
	for i := 0; i < len(ids); i += maxBatchGet {
		end := i + maxBatchGet
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.batchGetTickets(ctx, ids[i:end], byID); err != nil {
			return nil, fmt.Errorf("list tickets: %w", err)
		}
	}

	tickets := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

func (s *DynamoStore) batchGetTickets(ctx context.Context, ids []string, out map[string]*Ticket) error {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, keyOf(ticketPK(id), skMeta))
	}
	request := map[string]types.KeysAndAttributes{s.tableName: {Keys: keys}}

	for len(request) > 0 {
		result, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return fmt.Errorf("BatchGetItem (%d keys): %w", len(keys), err)
		}
		for _, item := range result.Responses[s.tableName] {
			pk, _ := item["PK"].(*types.AttributeValueMemberS)
			if pk == nil {
				continue
			}
			var it ticketItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return fmt.Errorf("unmarshal %s: %w", pk.Value, err)
			}
			id := strings.TrimPrefix(pk.Value, pkTicketPrefix)
			t, err := ticketFromItem(id, it)
			if err != nil {
				return err
			}
			out[id] = t
		}
		request = result.UnprocessedKeys
	}
	return nil
}

func (s *DynamoStore) ClaimTicket(ctx context.Context, id string) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(ticketPK(id), skMeta),
		UpdateExpression:    aws.String("SET #s = :processing"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #s IN (:pending, :failed)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":pending":    &types.AttributeValueMemberS{Value: string(StatusPending)},
			":failed":     &types.AttributeValueMemberS{Value: string(StatusFailed)},
		},
	})
	if err == nil {
		return true, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return false, fmt.Errorf("claim ticket %s: %w", id, err)
	}
	t, err := s.GetTicket(ctx, id)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, fmt.Errorf("claim ticket %s: %w", id, ErrNotFound)
	}
	log.Debug().Str("ticketId", id).Str("status", string(t.Status)).Msg("Ticket not claimable")
	return false, nil
}

func (s *DynamoStore) SetTicketStatus(ctx context.Context, id string, status Status) error {
	err := s.update(ctx, ticketPK(id), skMeta, "SET #s = :s",
		map[string]string{"#s": "status"},
		map[string]types.AttributeValue{":s": &types.AttributeValueMemberS{Value: string(status)}})
	if err != nil {
		return fmt.Errorf("update ticket status %s -> %s: %w", id, status, err)
	}
	log.Debug().Str("ticketId", id).Str("status", string(status)).Msg("Ticket status updated")
	return nil
}

func (s *DynamoStore) SetTicketTranscription(ctx context.Context, id, text string) error {
	err := s.update(ctx, ticketPK(id), skMeta, "SET transcription = :t", nil,
		map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: text}})
	if err != nil {
		return fmt.Errorf("update ticket transcription %s: %w", id, err)
	}
	return nil
}

func (s *DynamoStore) CompleteTicket(ctx context.Context, id string, fields *TicketFields, raw json.RawMessage) error {
	err := s.update(ctx, ticketPK(id), skMeta, "SET #s = :s, columnsField = :c",
		map[string]string{"#s": "status"},
		map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(StatusDone)},
			":c": &types.AttributeValueMemberS{Value: string(raw)},
		})
	if err != nil {
		return fmt.Errorf("complete ticket %s: %w", id, err)
	}
	log.Debug().Str("ticketId", id).Msg("Ticket completed")
	return nil
}

// --- Recordings ---

func (s *DynamoStore) CreateRecordings(ctx context.Context, recs []*Recording) error {
	requests := make([]types.WriteRequest, 0, len(recs))
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		item, err := marshalItem(ticketPK(r.TicketID), skRecording+r.ID, recordingItem{
			ID:            r.ID,
			FileName:      r.FileName,
			Role:          string(r.Role),
			RecordingTime: formatTime(r.RecordingTime),
			Transcription: r.Transcription,
		})
		if err != nil {
			return fmt.Errorf("create recording %s: %w", r.ID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("create recordings: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListRecordings(ctx context.Context, ticketID string) ([]*Recording, error) {
	items, err := s.query(ctx, ticketPK(ticketID), skRecording, true, 0)
	if err != nil {
		return nil, fmt.Errorf("list recordings %s: %w", ticketID, err)
	}
	recs := make([]*Recording, 0, len(items))
	for _, item := range items {
		var it recordingItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return nil, fmt.Errorf("list recordings %s: %w", ticketID, err)
		}
		recs = append(recs, &Recording{
			ID:            it.ID,
			TicketID:      ticketID,
			FileName:      it.FileName,
			Role:          Role(it.Role),
			RecordingTime: parseTime(it.RecordingTime),
			Transcription: it.Transcription,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].RecordingTime.Before(recs[j].RecordingTime)
	})
	return recs, nil
}

func (s *DynamoStore) SetRecordingTranscription(ctx context.Context, ticketID, recordingID, text string) error {
	err := s.update(ctx, ticketPK(ticketID), skRecording+recordingID, "SET transcription = :t", nil,
		map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: text}})
	if err != nil {
		return fmt.Errorf("update recording %s: %w", recordingID, err)
	}
	return nil
}

// --- Ticket errors ---

func (s *DynamoStore) AppendTicketError(ctx context.Context, ticketID, msg string) error {
	id := uuid.NewString()
	created := formatTime(time.Now())
	item, err := marshalItem(ticketPK(ticketID), skError+created+"#"+id, errorItem{
		ID:           id,
		ErrorMessage: msg,
		CreatedAt:    created,
	})
	if err != nil {
		return fmt.Errorf("append ticket error %s: %w", ticketID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("append ticket error %s: %w", ticketID, err)
	}
	return nil
}

func (s *DynamoStore) ListTicketErrors(ctx context.Context, ticketID string) ([]*TicketError, error) {
	items, err := s.query(ctx, ticketPK(ticketID), skError, false, 0)
	if err != nil {
		return nil, fmt.Errorf("list ticket errors %s: %w", ticketID, err)
	}
	rows := make([]*TicketError, 0, len(items))
	for _, item := range items {
		var it errorItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return nil, fmt.Errorf("list ticket errors %s: %w", ticketID, err)
		}
		rows = append(rows, &TicketError{
			ID:           it.ID,
			TicketID:     ticketID,
			ErrorMessage: it.ErrorMessage,
			CreatedAt:    parseTime(it.CreatedAt),
		})
	}
	return rows, nil
}

func (s *DynamoStore) ClearTicketErrors(ctx context.Context, ticketID string) (int, error) {
	items, err := s.query(ctx, ticketPK(ticketID), skError, true, 0)
	if err != nil {
		return 0, fmt.Errorf("clear ticket errors %s: %w", ticketID, err)
	}
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			}},
		})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return 0, fmt.Errorf("clear ticket errors %s: %w", ticketID, err)
	}
	log.Info().Str("ticketId", ticketID).Int("deleted", len(requests)).Msg("Ticket errors cleared")
	return len(requests), nil
}
