package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
	"github.com/fpang/incident-tickets/internal/webhook"
)

type fakeDispatcher struct {
	refs []store.TicketRef
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, ref store.TicketRef) error {
	f.refs = append(f.refs, ref)
	return nil
}

type fakeSheet struct {
	names []string
	err   error
}

func (f *fakeSheet) AppendFileName(ctx context.Context, fileName string) error {
	f.names = append(f.names, fileName)
	return f.err
}

type fixture struct {
	st    *store.MemoryStore
	gw    *storage.MemoryGateway
	disp  *fakeDispatcher
	sheet *fakeSheet
	srv   http.Handler
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	f := &fixture{
		st:    store.NewMemoryStore(),
		gw:    storage.NewMemoryGateway("recordings"),
		disp:  &fakeDispatcher{},
		sheet: &fakeSheet{},
	}
	f.srv = New(Config{
		Store:         f.st,
		Storage:       f.gw,
		Dispatcher:    f.disp,
		Sheet:         f.sheet,
		OriginSecret:  secret,
		WebhookSecret: "hook-secret",
		Now:           func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) },
	}).Handler()
	return f
}

func (f *fixture) ticket(t *testing.T, status store.Status) *store.Ticket {
	t.Helper()
	tk := &store.Ticket{StoragePath: "incidents/2024-03-09/abc", IncidentTime: time.Unix(1700000000, 0), Status: status}
	if err := f.st.CreateTicket(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestOriginVerify(t *testing.T) {
	f := newFixture(t, "s3cret")

	if rec := f.do(http.MethodGet, "/api/health", ""); rec.Code != http.StatusForbidden {
		t.Errorf("missing header: status = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("x-origin-verify", "s3cret")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid header: status = %d, want 200", rec.Code)
	}
}

func TestWebhookSkipsOriginVerify(t *testing.T) {
	f := newFixture(t, "s3cret")
	body := `{"type":"INSERT","table":"tickets","record":{"id":"t-9","storage_path":"incidents/y"}}`

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/ticket-inserted", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign("hook-secret", []byte(body)))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(f.disp.refs) != 1 || f.disp.refs[0].ID != "t-9" {
		t.Errorf("dispatched %+v", f.disp.refs)
	}
}

func TestListAndGetTicket(t *testing.T) {
	f := newFixture(t, "")
	tk := f.ticket(t, store.StatusPending)

	rec := f.do(http.MethodGet, "/api/tickets?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Tickets []store.Ticket `json:"tickets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tickets) != 1 || list.Tickets[0].ID != tk.ID {
		t.Errorf("unexpected list %+v", list.Tickets)
	}

	if rec := f.do(http.MethodGet, "/api/tickets?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}

	if rec := f.do(http.MethodGet, "/api/tickets/"+tk.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/tickets/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/tickets/6f1c1c6e-8a55-4b1e-9d7a-1b7c3d5e2f00", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing ticket: status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/tickets/"+tk.ID+"/bogus", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown action: status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/tickets/"+tk.ID+"/retry", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET retry: status = %d", rec.Code)
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(t, "")
	failed := f.ticket(t, store.StatusFailed)
	done := f.ticket(t, store.StatusDone)

	if rec := f.do(http.MethodPost, "/api/tickets/"+failed.ID+"/retry", ""); rec.Code != http.StatusAccepted {
		t.Errorf("retry failed ticket: status = %d", rec.Code)
	}
	if len(f.disp.refs) != 1 || f.disp.refs[0].ID != failed.ID || f.disp.refs[0].StoragePath != failed.StoragePath {
		t.Errorf("unexpected dispatches %+v", f.disp.refs)
	}

	if rec := f.do(http.MethodPost, "/api/tickets/"+done.ID+"/retry", ""); rec.Code != http.StatusConflict {
		t.Errorf("retry done ticket: status = %d, want 409", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/tickets/6f1c1c6e-8a55-4b1e-9d7a-1b7c3d5e2f00/retry", ""); rec.Code != http.StatusNotFound {
		t.Errorf("retry missing ticket: status = %d, want 404", rec.Code)
	}
}

func TestErrorsAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	tk := f.ticket(t, store.StatusFailed)
	for _, msg := range []string{"transcribe: boom", "extract: bad json"} {
		if err := f.st.AppendTicketError(ctx, tk.ID, msg); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(http.MethodGet, "/api/tickets/"+tk.ID+"/errors", "")
	var body struct {
		Errors []store.TicketError `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(body.Errors))
	}

	rec = f.do(http.MethodPost, "/api/tickets/"+tk.ID+"/clear-errors", "")
	var cleared map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &cleared); err != nil {
		t.Fatal(err)
	}
	if cleared["cleared"] != 2 {
		t.Errorf("cleared = %d", cleared["cleared"])
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	tk := f.ticket(t, store.StatusPending)
	recs := []*store.Recording{{TicketID: tk.ID, FileName: "0-customer.m4a", Role: store.RoleCustomer, RecordingTime: time.Unix(1700000000, 0)}}
	if err := f.st.CreateRecordings(ctx, recs); err != nil {
		t.Fatal(err)
	}
	if _, err := f.gw.Upload(ctx, storage.RecordingKey(tk.StoragePath, "0-customer.m4a"), []byte("audio"), "audio/mp4"); err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodPost, "/api/tickets/"+tk.ID+"/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out["key"], "/exports/ticket-"+tk.ID+".zip") {
		t.Errorf("key = %s", out["key"])
	}
	if !strings.Contains(out["url"], "op=get") {
		t.Errorf("url = %s", out["url"])
	}
	if _, err := f.gw.Download(ctx, out["key"]); err != nil {
		t.Errorf("bundle not uploaded: %v", err)
	}
}

func TestUploadURL(t *testing.T) {
	f := newFixture(t, "")
	body := `{"incidentTime":1700000000,"files":[
		{"fileName":"/sdcard/Calls/customer call.m4a","role":"customer","recordedAt":"2023-11-14T21:56:40Z"},
		{"fileName":"manager_Ravi_Kumar_0091.mp3","role":"Manager","recordedAt":"2023-11-14T22:05:00Z"}]}`

	rec := f.do(http.MethodPost, "/api/incidents/upload-url", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		StoragePath string `json:"storagePath"`
		Uploads     []struct {
			Key string `json:"key"`
			URL string `json:"url"`
		} `json:"uploads"`
		ManifestKey string           `json:"manifestKey"`
		ManifestURL string           `json:"manifestUrl"`
		Manifest    *ingest.Manifest `json:"manifest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.StoragePath, "incidents/2024-03-09/") {
		t.Errorf("storagePath = %s", out.StoragePath)
	}
	if len(out.Uploads) != 2 || !strings.Contains(out.Uploads[0].URL, "op=put") {
		t.Fatalf("unexpected uploads %+v", out.Uploads)
	}
	if !ingest.IsManifestKey(out.ManifestKey) || out.ManifestURL == "" {
		t.Errorf("manifest key %s url %s", out.ManifestKey, out.ManifestURL)
	}
	if out.Manifest == nil || out.Manifest.IncidentTime != 1700000000 || len(out.Manifest.Files) != 2 {
		t.Errorf("unexpected manifest %+v", out.Manifest)
	}

	if rec := f.do(http.MethodPost, "/api/incidents/upload-url", `{"files":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("no files: status = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/incidents/upload-url", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: status = %d", rec.Code)
	}
}

func TestSheetAppend(t *testing.T) {
	f := newFixture(t, "")

	if rec := f.do(http.MethodPost, "/api/sheet/append", `{"fileName":"call.m4a"}`); rec.Code != http.StatusOK {
		t.Errorf("append status = %d", rec.Code)
	}
	if len(f.sheet.names) != 1 || f.sheet.names[0] != "call.m4a" {
		t.Errorf("names = %v", f.sheet.names)
	}
	if rec := f.do(http.MethodPost, "/api/sheet/append", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing fileName: status = %d", rec.Code)
	}

	f.sheet.err = errors.New("quota exceeded")
	if rec := f.do(http.MethodPost, "/api/sheet/append", `{"fileName":"x"}`); rec.Code != http.StatusBadGateway {
		t.Errorf("sheet failure: status = %d", rec.Code)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"/api/tickets/6f1c1c6e-8a55-4b1e-9d7a-1b7c3d5e2f00":       "/api/tickets/*",
		"/api/tickets/6f1c1c6e-8a55-4b1e-9d7a-1b7c3d5e2f00/retry": "/api/tickets/*/retry",
		"/api/tickets":             "/api/tickets",
		"/api/incidents/upload-url/": "/api/incidents/upload-url",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
