package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
)

// fakeDataAPI records statements and replays canned outputs in order.
type fakeDataAPI struct {
	statements []*rdsdata.ExecuteStatementInput
	batches    []*rdsdata.BatchExecuteStatementInput
	outputs    []*rdsdata.ExecuteStatementOutput
	err        error
}

func (f *fakeDataAPI) ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput, _ ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error) {
	f.statements = append(f.statements, in)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.outputs) == 0 {
		return &rdsdata.ExecuteStatementOutput{}, nil
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func (f *fakeDataAPI) BatchExecuteStatement(ctx context.Context, in *rdsdata.BatchExecuteStatementInput, _ ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error) {
	f.batches = append(f.batches, in)
	return &rdsdata.BatchExecuteStatementOutput{}, f.err
}

func paramValue(params []rdsdatatypes.SqlParameter, name string) (rdsdatatypes.SqlParameter, bool) {
	for _, p := range params {
		if aws.ToString(p.Name) == name {
			return p, true
		}
	}
	return rdsdatatypes.SqlParameter{}, false
}

func TestDataAPIStore_CreateTicket(t *testing.T) {
	fake := &fakeDataAPI{}
	s := NewDataAPIStore(fake, "arn:cluster", "arn:secret", "tickets")

	tk := &Ticket{StoragePath: "incidents/abc", IncidentTime: time.Unix(1700000000, 0)}
	if err := s.CreateTicket(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	if len(fake.statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(fake.statements))
	}
	in := fake.statements[0]
	if aws.ToString(in.Database) != "tickets" || aws.ToString(in.ResourceArn) != "arn:cluster" {
		t.Errorf("unexpected target %s %s", aws.ToString(in.Database), aws.ToString(in.ResourceArn))
	}
	p, ok := paramValue(in.Parameters, "incident_time")
	if !ok {
		t.Fatal("missing incident_time parameter")
	}
	if v := p.Value.(*rdsdatatypes.FieldMemberStringValue).Value; v != "2023-11-14 22:13:20" {
		t.Errorf("incident_time = %q", v)
	}
	if p.TypeHint != rdsdatatypes.TypeHintTimestamp {
		t.Errorf("incident_time type hint = %v", p.TypeHint)
	}
	if p, _ := paramValue(in.Parameters, "status"); p.Value.(*rdsdatatypes.FieldMemberStringValue).Value != "pending" {
		t.Error("status parameter should be pending")
	}
}

func TestDataAPIStore_ClaimTicket(t *testing.T) {
	ctx := context.Background()

	fake := &fakeDataAPI{outputs: []*rdsdata.ExecuteStatementOutput{{NumberOfRecordsUpdated: 1}}}
	s := NewDataAPIStore(fake, "c", "s", "d")
	ok, err := s.ClaimTicket(ctx, "t-1")
	if err != nil || !ok {
		t.Fatalf("claim = %v, %v", ok, err)
	}
	sql := aws.ToString(fake.statements[0].Sql)
	if !strings.Contains(sql, "status IN ('pending', 'failed')") {
		t.Errorf("claim SQL is not conditional: %s", sql)
	}

	// Not updated, row exists in processing.
	fake = &fakeDataAPI{outputs: []*rdsdata.ExecuteStatementOutput{
		{NumberOfRecordsUpdated: 0},
		{Records: [][]rdsdatatypes.Field{{
			&rdsdatatypes.FieldMemberStringValue{Value: "t-1"},
			&rdsdatatypes.FieldMemberStringValue{Value: "incidents/abc"},
			&rdsdatatypes.FieldMemberLongValue{Value: 1700000000000000},
			&rdsdatatypes.FieldMemberLongValue{Value: 1700000001000000},
			&rdsdatatypes.FieldMemberStringValue{Value: "processing"},
			&rdsdatatypes.FieldMemberIsNull{Value: true},
			&rdsdatatypes.FieldMemberIsNull{Value: true},
		}}},
	}}
	s = NewDataAPIStore(fake, "c", "s", "d")
	ok, err = s.ClaimTicket(ctx, "t-1")
	if err != nil || ok {
		t.Fatalf("claim of processing ticket = %v, %v; want false, nil", ok, err)
	}

	// Not updated, row missing.
	fake = &fakeDataAPI{outputs: []*rdsdata.ExecuteStatementOutput{{}, {}}}
	s = NewDataAPIStore(fake, "c", "s", "d")
	if _, err := s.ClaimTicket(ctx, "t-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("claim missing: err = %v", err)
	}
}

func TestDataAPIStore_GetTicketDecodes(t *testing.T) {
	fake := &fakeDataAPI{outputs: []*rdsdata.ExecuteStatementOutput{{Records: [][]rdsdatatypes.Field{{
		&rdsdatatypes.FieldMemberStringValue{Value: "t-1"},
		&rdsdatatypes.FieldMemberStringValue{Value: "incidents/abc"},
		&rdsdatatypes.FieldMemberLongValue{Value: 1700000000000000},
		&rdsdatatypes.FieldMemberLongValue{Value: 1700000001000000},
		&rdsdatatypes.FieldMemberStringValue{Value: "done"},
		&rdsdatatypes.FieldMemberStringValue{Value: "Call 1: Role: Customer"},
		&rdsdatatypes.FieldMemberStringValue{Value: `{"Branch":"Peelamedu","Category":["Taste"],"Name":null}`},
	}}}}}
	s := NewDataAPIStore(fake, "c", "s", "d")

	tk, err := s.GetTicket(context.Background(), "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if !tk.IncidentTime.Equal(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)) {
		t.Errorf("incident_time = %s", tk.IncidentTime)
	}
	if tk.Status != StatusDone || tk.Transcription == nil {
		t.Errorf("unexpected ticket %+v", tk)
	}
	if tk.Fields == nil || *tk.Fields.Branch != "Peelamedu" || tk.Fields.Category[0] != "Taste" || tk.Fields.Name != nil {
		t.Errorf("unexpected fields %+v", tk.Fields)
	}
}

func TestDataAPIStore_CompleteTicketWritesColumns(t *testing.T) {
	fake := &fakeDataAPI{outputs: []*rdsdata.ExecuteStatementOutput{{NumberOfRecordsUpdated: 1}}}
	s := NewDataAPIStore(fake, "c", "s", "d")

	branch := "General"
	fields := &TicketFields{Branch: &branch, Category: []string{"Hygiene", `Say "hi"`}}
	if err := s.CompleteTicket(context.Background(), "t-1", fields, []byte(`{"Branch":"General"}`)); err != nil {
		t.Fatal(err)
	}
	in := fake.statements[0]
	sql := aws.ToString(in.Sql)
	for _, want := range []string{"status = 'done'", "branch = :branch", "category = :category::text[]"} {
		if !strings.Contains(sql, want) {
			t.Errorf("SQL missing %q: %s", want, sql)
		}
	}
	if p, _ := paramValue(in.Parameters, "name"); p.Value.(*rdsdatatypes.FieldMemberIsNull).Value != true {
		t.Error("nil Name should be sent as NULL")
	}
	if p, _ := paramValue(in.Parameters, "category"); p.Value.(*rdsdatatypes.FieldMemberStringValue).Value != `{"Hygiene","Say \"hi\""}` {
		t.Errorf("category literal = %v", p.Value)
	}
	if p, _ := paramValue(in.Parameters, "columns_field"); p.TypeHint != rdsdatatypes.TypeHintJson {
		t.Error("columns_field should carry the JSON type hint")
	}
}

func TestDataAPIStore_UpdateMissingTicket(t *testing.T) {
	fake := &fakeDataAPI{outputs: []*rdsdata.ExecuteStatementOutput{{NumberOfRecordsUpdated: 0}}}
	s := NewDataAPIStore(fake, "c", "s", "d")
	if err := s.SetTicketStatus(context.Background(), "t-1", StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDataAPIStore_CreateRecordingsBatches(t *testing.T) {
	fake := &fakeDataAPI{}
	s := NewDataAPIStore(fake, "c", "s", "d")
	recs := []*Recording{
		{TicketID: "t-1", FileName: "a.m4a", Role: RoleCustomer, RecordingTime: time.Unix(1700000000, 0)},
		{TicketID: "t-1", FileName: "b.m4a", Role: RoleManager, RecordingTime: time.Unix(1700000060, 0)},
	}
	if err := s.CreateRecordings(context.Background(), recs); err != nil {
		t.Fatal(err)
	}
	if len(fake.batches) != 1 || len(fake.batches[0].ParameterSets) != 2 {
		t.Fatalf("expected one batch of two parameter sets")
	}
	if recs[0].ID == "" || recs[1].ID == "" {
		t.Error("recording IDs should be assigned")
	}
	if p, _ := paramValue(fake.batches[0].ParameterSets[0], "transcription"); p.Value.(*rdsdatatypes.FieldMemberIsNull).Value != true {
		t.Error("new recordings should have NULL transcription")
	}
}

func TestStripSQLComments(t *testing.T) {
	got := stripSQLComments("-- header\nCREATE TABLE x (id int)\n")
	if got != "CREATE TABLE x (id int)" {
		t.Errorf("stripSQLComments = %q", got)
	}
}
