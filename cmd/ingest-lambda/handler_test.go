package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

func body(t *testing.T, raw string) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("body %q: %v", raw, err)
	}
	return m
}

func TestIngestEventKeys(t *testing.T) {
	var e IngestEvent
	payload := `{"Records":[{"s3":{"bucket":{"name":"call-recordings"},"object":{"key":"incidents/2024-03-09/abc/incident_details.json"}}}]}`
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		t.Fatal(err)
	}
	if keys := e.Keys(); len(keys) != 1 || keys[0] != "incidents/2024-03-09/abc/incident_details.json" {
		t.Errorf("keys = %v", keys)
	}

	e = IngestEvent{Records: []events.S3EventRecord{{S3: events.S3Entity{Object: events.S3Object{Key: "a/my+call%281%29.m4a"}}}}}
	if keys := e.Keys(); keys[0] != "a/my call(1).m4a" {
		t.Errorf("unescaped key = %q", keys[0])
	}

	e = IngestEvent{Name: "x/incident_details.json"}
	if keys := e.Keys(); len(keys) != 1 || keys[0] != "x/incident_details.json" {
		t.Errorf("direct keys = %v", keys)
	}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gw := storage.NewMemoryGateway("call-recordings")
	in := ingest.NewIngester(st, gw)

	manifest := `{"incidentTime":1700000000,"files":[{"fileName":"0_customer_a.m4a","role":"Customer","dateUNIX":1700000000}]}`
	if _, err := gw.Upload(ctx, "incidents/x/incident_details.json", []byte(manifest), "application/json"); err != nil {
		t.Fatal(err)
	}

	resp := handle(ctx, in, IngestEvent{Name: "incidents/x/incident_details.json"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, resp.Body)
	}
	tickets, _ := st.ListTickets(ctx, store.ListOptions{})
	if len(tickets) != 1 {
		t.Fatalf("tickets = %d", len(tickets))
	}
	if want := "Ticket " + tickets[0].ID + " created with 1 recordings."; body(t, resp.Body)["message"] != want {
		t.Errorf("message = %s", resp.Body)
	}

	resp = handle(ctx, in, IngestEvent{Name: "incidents/x/0_customer_a.m4a"})
	if resp.StatusCode != http.StatusOK || body(t, resp.Body)["message"] != ingest.SkipMessage {
		t.Errorf("skip response = %+v", resp)
	}

	resp = handle(ctx, in, IngestEvent{Name: "incidents/missing/incident_details.json"})
	if resp.StatusCode != http.StatusInternalServerError || body(t, resp.Body)["error"] == "" {
		t.Errorf("missing manifest response = %+v", resp)
	}

	if resp := handle(ctx, in, IngestEvent{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty event status = %d", resp.StatusCode)
	}
}
