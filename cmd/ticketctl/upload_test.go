package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

func TestParseIncidentTime(t *testing.T) {
	now := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	if got, err := parseIncidentTime("", now); err != nil || !got.Equal(now) {
		t.Errorf("empty = %v, %v", got, err)
	}
	got, err := parseIncidentTime("2023-11-14T22:13:20Z", now)
	if err != nil || got.Unix() != 1700000000 {
		t.Errorf("RFC 3339 = %v, %v", got, err)
	}
	if _, err := parseIncidentTime("2024-03-09 19:30", now); err != nil {
		t.Errorf("local layout: %v", err)
	}
	if _, err := parseIncidentTime("yesterday", now); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestResolveRolesFromFlag(t *testing.T) {
	roles, err := resolveRoles([]string{"a.m4a", "b.m4a"}, []string{"customer", "Manager"})
	if err != nil || roles[0] != store.RoleCustomer || roles[1] != store.RoleManager {
		t.Errorf("roles = %v, %v", roles, err)
	}
	if _, err := resolveRoles([]string{"a.m4a"}, []string{"customer", "manager"}); err == nil {
		t.Error("expected count mismatch error")
	}
	if _, err := resolveRoles([]string{"a.m4a"}, []string{"chef"}); err == nil {
		t.Error("expected unknown role error")
	}
}

func TestUploadIncidentThenIngest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	customer := filepath.Join(dir, "customer.m4a")
	manager := filepath.Join(dir, "manager_Ravi_0091.mp3")
	for _, p := range []string{customer, manager} {
		if err := os.WriteFile(p, []byte("audio:"+filepath.Base(p)), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	gw := storage.NewMemoryGateway(storage.DefaultBucket)
	incident := time.Unix(1700000000, 0)
	plan, err := uploadIncident(ctx, gw, []string{customer, manager},
		[]store.Role{store.RoleCustomer, store.RoleManager}, incident, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plan.StoragePath, "incidents/2024-03-09/") {
		t.Errorf("storage path = %s", plan.StoragePath)
	}
	for _, obj := range plan.Objects {
		data, err := gw.Download(ctx, obj.Key)
		if err != nil {
			t.Fatalf("download %s: %v", obj.Key, err)
		}
		if !strings.HasPrefix(string(data), "audio:") {
			t.Errorf("unexpected content for %s", obj.Key)
		}
	}

	st := store.NewMemoryStore()
	res, err := ingest.NewIngester(st, gw).Ingest(ctx, plan.ManifestKey)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := st.ListRecordings(ctx, res.TicketID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("recordings = %d", len(recs))
	}
	for _, r := range recs {
		if _, err := gw.Download(ctx, storage.RecordingKey(plan.StoragePath, r.FileName)); err != nil {
			t.Errorf("recording %s not reachable from its row: %v", r.FileName, err)
		}
	}
}
