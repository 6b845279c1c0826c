package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Schema is the PostgreSQL DDL for the Data API backend.
//
//go:embed schema.sql
var Schema string

// DataAPI is the subset of *rdsdata.Client used by DataAPIStore.
type DataAPI interface {
	ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
	BatchExecuteStatement(ctx context.Context, in *rdsdata.BatchExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error)
}

// DataAPIStore implements TicketStore on Aurora PostgreSQL via the RDS Data API.
type DataAPIStore struct {
	client     DataAPI
	clusterARN string
	secretARN  string
	database   string
}

var _ TicketStore = (*DataAPIStore)(nil)

// NewDataAPIStore creates a DataAPIStore for the given cluster and database.
func NewDataAPIStore(client DataAPI, clusterARN, secretARN, database string) *DataAPIStore {
	return &DataAPIStore{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

// Data API timestamp parameters use this layout with TypeHintTimestamp.
const sqlTimeLayout = "2006-01-02 15:04:05.999999"

func strParam(name, v string) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{Name: aws.String(name), Value: &rdsdatatypes.FieldMemberStringValue{Value: v}}
}

func uuidParam(name, v string) rdsdatatypes.SqlParameter {
	p := strParam(name, v)
	p.TypeHint = rdsdatatypes.TypeHintUuid
	return p
}

func timeParam(name string, t time.Time) rdsdatatypes.SqlParameter {
	if t.IsZero() {
		return nullParam(name)
	}
	p := strParam(name, t.UTC().Format(sqlTimeLayout))
	p.TypeHint = rdsdatatypes.TypeHintTimestamp
	return p
}

func nullParam(name string) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{Name: aws.String(name), Value: &rdsdatatypes.FieldMemberIsNull{Value: true}}
}

func optStrParam(name string, v *string) rdsdatatypes.SqlParameter {
	if v == nil {
		return nullParam(name)
	}
	return strParam(name, *v)
}

// formatTextArray renders a PostgreSQL text[] literal.
func formatTextArray(arr []string) string {
	if len(arr) == 0 {
		return "{}"
	}
	escaped := make([]string, len(arr))
	for i, s := range arr {
		escaped[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}

func (s *DataAPIStore) exec(ctx context.Context, sql string, params []rdsdatatypes.SqlParameter) (*rdsdata.ExecuteStatementOutput, error) {
	return s.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(s.clusterARN),
		SecretArn:   aws.String(s.secretARN),
		Database:    aws.String(s.database),
		Sql:         aws.String(sql),
		Parameters:  params,
	})
}

// Migrate applies Schema statement by statement. The Data API runs one
// statement per call.
func (s *DataAPIStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = stripSQLComments(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Str("database", s.database).Msg("Ticket schema applied")
	return nil
}

func stripSQLComments(stmt string) string {
	var lines []string
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// --- Row decoding ---

func fieldString(f rdsdatatypes.Field) *string {
	if v, ok := f.(*rdsdatatypes.FieldMemberStringValue); ok {
		s := v.Value
		return &s
	}
	return nil
}

func fieldMicros(f rdsdatatypes.Field) time.Time {
	if v, ok := f.(*rdsdatatypes.FieldMemberLongValue); ok {
		return time.UnixMicro(v.Value).UTC()
	}
	return time.Time{}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Timestamps are selected as epoch microseconds so no string layout has to
// be parsed on the way back.
const ticketColumns = `id::text, storage_path,
	(extract(epoch FROM incident_time) * 1000000)::bigint,
	(extract(epoch FROM created_at) * 1000000)::bigint,
	status, transcription, columns_field::text`

func decodeTicket(rec []rdsdatatypes.Field) (*Ticket, error) {
	if len(rec) < 7 {
		return nil, fmt.Errorf("ticket row has %d columns", len(rec))
	}
	t := &Ticket{
		ID:            derefString(fieldString(rec[0])),
		StoragePath:   derefString(fieldString(rec[1])),
		IncidentTime:  fieldMicros(rec[2]),
		CreatedAt:     fieldMicros(rec[3]),
		Status:        Status(derefString(fieldString(rec[4]))),
		Transcription: fieldString(rec[5]),
	}
	if raw := fieldString(rec[6]); raw != nil {
		t.ColumnsField = json.RawMessage(*raw)
		fields, err := DecodeFields(t.ColumnsField)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		t.Fields = fields
	}
	return t, nil
}

const recordingColumns = `id::text, ticket_id::text, file_name, role,
	(extract(epoch FROM recording_time) * 1000000)::bigint, transcription`

func decodeRecording(rec []rdsdatatypes.Field) (*Recording, error) {
	if len(rec) < 6 {
		return nil, fmt.Errorf("recording row has %d columns", len(rec))
	}
	return &Recording{
		ID:            derefString(fieldString(rec[0])),
		TicketID:      derefString(fieldString(rec[1])),
		FileName:      derefString(fieldString(rec[2])),
		Role:          Role(derefString(fieldString(rec[3]))),
		RecordingTime: fieldMicros(rec[4]),
		Transcription: fieldString(rec[5]),
	}, nil
}

// --- Tickets ---

func (s *DataAPIStore) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	sql := `INSERT INTO tickets (id, storage_path, incident_time, created_at, status)
		VALUES (:id, :storage_path, :incident_time, :created_at, :status)`
	params := []rdsdatatypes.SqlParameter{
		uuidParam("id", t.ID),
		strParam("storage_path", t.StoragePath),
		timeParam("incident_time", t.IncidentTime),
		timeParam("created_at", t.CreatedAt),
		strParam("status", string(t.Status)),
	}
	if _, err := s.exec(ctx, sql, params); err != nil {
		log.Error().Err(err).Str("ticketId", t.ID).Str("storagePath", t.StoragePath).Msg("CreateTicket failed")
		return fmt.Errorf("create ticket %s: %w", t.ID, err)
	}
	log.Debug().Str("ticketId", t.ID).Str("storagePath", t.StoragePath).Msg("Ticket inserted")
	return nil
}

func (s *DataAPIStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	out, err := s.exec(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = :id`,
		[]rdsdatatypes.SqlParameter{uuidParam("id", id)})
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	if len(out.Records) == 0 {
		return nil, nil
	}
	return decodeTicket(out.Records[0])
}

func (s *DataAPIStore) ListTickets(ctx context.Context, opts ListOptions) ([]*Ticket, error) {
	out, err := s.exec(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC LIMIT :limit`,
		[]rdsdatatypes.SqlParameter{
			{Name: aws.String("limit"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(opts.limit())}},
		})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	tickets := make([]*Ticket, 0, len(out.Records))
	for _, rec := range out.Records {
		t, err := decodeTicket(rec)
		if err != nil {
			return nil, fmt.Errorf("list tickets: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (s *DataAPIStore) ClaimTicket(ctx context.Context, id string) (bool, error) {
	out, err := s.exec(ctx, `UPDATE tickets SET status = 'processing'
		WHERE id = :id AND status IN ('pending', 'failed')`,
		[]rdsdatatypes.SqlParameter{uuidParam("id", id)})
	if err != nil {
		return false, fmt.Errorf("claim ticket %s: %w", id, err)
	}
	if out.NumberOfRecordsUpdated > 0 {
		return true, nil
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

func (s *DataAPIStore) updateTicket(ctx context.Context, id, set string, params []rdsdatatypes.SqlParameter) error {
	params = append(params, uuidParam("id", id))
	out, err := s.exec(ctx, `UPDATE tickets SET `+set+` WHERE id = :id`, params)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", id, err)
	}
	if out.NumberOfRecordsUpdated == 0 {
		return fmt.Errorf("update ticket %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *DataAPIStore) SetTicketStatus(ctx context.Context, id string, status Status) error {
	if err := s.updateTicket(ctx, id, "status = :status",
		[]rdsdatatypes.SqlParameter{strParam("status", string(status))}); err != nil {
		return err
	}
	log.Debug().Str("ticketId", id).Str("status", string(status)).Msg("Ticket status updated")
	return nil
}

func (s *DataAPIStore) SetTicketTranscription(ctx context.Context, id, text string) error {
	return s.updateTicket(ctx, id, "transcription = :transcription",
		[]rdsdatatypes.SqlParameter{strParam("transcription", text)})
}

// fieldColumn pairs a tickets column with the TicketFields value it holds.
type fieldColumn struct {
	column string
	value  *string
}

func fieldColumns(f *TicketFields) []fieldColumn {
	return []fieldColumn{
		{"branch", f.Branch},
		{"name", f.Name},
		{"category_other", f.CategoryOther},
		{"issue_details", f.IssueDetails},
		{"incident_status", f.Status},
		{"incident_status_other", f.StatusOther},
		{"action_taken", f.ActionTaken},
		{"customer_care_notes", f.CustomerCareNotes},
		{"resolution_feedback_from_customer", f.ResolutionFeedback},
		{"order_type", f.OrderType},
		{"order_type_other", f.OrderTypeOther},
		{"ticket_type", f.TicketType},
		{"ticket_type_other", f.TicketTypeOther},
		{"table_no", f.TableNo},
		{"token_no", f.TokenNo},
		{"bill_no", f.BillNo},
		{"waiter_name", f.WaiterName},
		{"captain_name", f.CaptainName},
		{"staff_responsible", f.StaffResponsible},
		{"ai_summary", f.AISummary},
		{"preventive_action", f.PreventiveAction},
	}
}

func (s *DataAPIStore) CompleteTicket(ctx context.Context, id string, fields *TicketFields, raw json.RawMessage) error {
	if fields == nil {
		fields = &TicketFields{}
	}
	sets := []string{"status = 'done'", "columns_field = :columns_field"}
	rawParam := strParam("columns_field", string(raw))
	rawParam.TypeHint = rdsdatatypes.TypeHintJson
	params := []rdsdatatypes.SqlParameter{rawParam}

	for _, fc := range fieldColumns(fields) {
		sets = append(sets, fc.column+" = :"+fc.column)
		params = append(params, optStrParam(fc.column, fc.value))
	}
	if fields.Category == nil {
		sets = append(sets, "category = NULL")
	} else {
		sets = append(sets, "category = :category::text[]")
		params = append(params, strParam("category", formatTextArray(fields.Category)))
	}

	if err := s.updateTicket(ctx, id, strings.Join(sets, ", "), params); err != nil {
		log.Error().Err(err).Str("ticketId", id).Msg("CompleteTicket failed")
		return err
	}
	log.Debug().Str("ticketId", id).Msg("Ticket completed")
	return nil
}

// --- Recordings ---

func (s *DataAPIStore) CreateRecordings(ctx context.Context, recs []*Recording) error {
	if len(recs) == 0 {
		return nil
	}
	sets := make([][]rdsdatatypes.SqlParameter, 0, len(recs))
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		sets = append(sets, []rdsdatatypes.SqlParameter{
			uuidParam("id", r.ID),
			uuidParam("ticket_id", r.TicketID),
			strParam("file_name", r.FileName),
			strParam("role", string(r.Role)),
			timeParam("recording_time", r.RecordingTime),
			optStrParam("transcription", r.Transcription),
		})
	}
	_, err := s.client.BatchExecuteStatement(ctx, &rdsdata.BatchExecuteStatementInput{
		ResourceArn: aws.String(s.clusterARN),
		SecretArn:   aws.String(s.secretARN),
		Database:    aws.String(s.database),
		Sql: aws.String(`INSERT INTO recordings (id, ticket_id, file_name, role, recording_time, transcription)
			VALUES (:id, :ticket_id, :file_name, :role, :recording_time, :transcription)`),
		ParameterSets: sets,
	})
	if err != nil {
		log.Error().Err(err).Str("ticketId", recs[0].TicketID).Int("count", len(recs)).Msg("CreateRecordings failed")
		return fmt.Errorf("create recordings: %w", err)
	}
	return nil
}

func (s *DataAPIStore) ListRecordings(ctx context.Context, ticketID string) ([]*Recording, error) {
	out, err := s.exec(ctx, `SELECT `+recordingColumns+` FROM recordings
		WHERE ticket_id = :ticket_id ORDER BY recording_time ASC`,
		[]rdsdatatypes.SqlParameter{uuidParam("ticket_id", ticketID)})
	if err != nil {
		return nil, fmt.Errorf("list recordings %s: %w", ticketID, err)
	}
	recs := make([]*Recording, 0, len(out.Records))
	for _, row := range out.Records {
		r, err := decodeRecording(row)
		if err != nil {
			return nil, fmt.Errorf("list recordings %s: %w", ticketID, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func (s *DataAPIStore) SetRecordingTranscription(ctx context.Context, ticketID, recordingID, text string) error {
	out, err := s.exec(ctx, `UPDATE recordings SET transcription = :transcription
		WHERE id = :id AND ticket_id = :ticket_id`,
		[]rdsdatatypes.SqlParameter{
			strParam("transcription", text),
			uuidParam("id", recordingID),
			uuidParam("ticket_id", ticketID),
		})
	if err != nil {
		return fmt.Errorf("update recording %s: %w", recordingID, err)
	}
	if out.NumberOfRecordsUpdated == 0 {
		return fmt.Errorf("update recording %s: %w", recordingID, ErrNotFound)
	}
	return nil
}

// --- Ticket errors ---

func (s *DataAPIStore) AppendTicketError(ctx context.Context, ticketID, msg string) error {
	_, err := s.exec(ctx, `INSERT INTO ticket_errors (id, ticket_id, error_message, created_at)
		VALUES (:id, :ticket_id, :error_message, :created_at)`,
		[]rdsdatatypes.SqlParameter{
			uuidParam("id", uuid.NewString()),
			uuidParam("ticket_id", ticketID),
			strParam("error_message", msg),
			timeParam("created_at", time.Now()),
		})
	if err != nil {
		return fmt.Errorf("append ticket error %s: %w", ticketID, err)
	}
	return nil
}

func (s *DataAPIStore) ListTicketErrors(ctx context.Context, ticketID string) ([]*TicketError, error) {
	out, err := s.exec(ctx, `SELECT id::text, ticket_id::text, error_message,
		(extract(epoch FROM created_at) * 1000000)::bigint
		FROM ticket_errors WHERE ticket_id = :ticket_id ORDER BY created_at DESC`,
		[]rdsdatatypes.SqlParameter{uuidParam("ticket_id", ticketID)})
	if err != nil {
		return nil, fmt.Errorf("list ticket errors %s: %w", ticketID, err)
	}
	rows := make([]*TicketError, 0, len(out.Records))
	for _, rec := range out.Records {
		if len(rec) < 4 {
			return nil, fmt.Errorf("ticket error row has %d columns", len(rec))
		}
		rows = append(rows, &TicketError{
			ID:           derefString(fieldString(rec[0])),
			TicketID:     derefString(fieldString(rec[1])),
			ErrorMessage: derefString(fieldString(rec[2])),
			CreatedAt:    fieldMicros(rec[3]),
		})
	}
	return rows, nil
}

func (s *DataAPIStore) ClearTicketErrors(ctx context.Context, ticketID string) (int, error) {
	out, err := s.exec(ctx, `DELETE FROM ticket_errors WHERE ticket_id = :ticket_id`,
		[]rdsdatatypes.SqlParameter{uuidParam("ticket_id", ticketID)})
	if err != nil {
		return 0, fmt.Errorf("clear ticket errors %s: %w", ticketID, err)
	}
	log.Info().Str("ticketId", ticketID).Int64("deleted", out.NumberOfRecordsUpdated).Msg("Ticket errors cleared")
	return int(out.NumberOfRecordsUpdated), nil
}
