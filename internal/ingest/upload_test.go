package ingest

import (
	"strings"
	"testing"
	"time"
)

func TestNewStoragePath(t *testing.T) {
	p := NewStoragePath(time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(p, "incidents/2024-03-05/") || len(p) != len("incidents/2024-03-05/")+36 {
		t.Errorf("NewStoragePath = %s", p)
	}
}

func TestPlanUpload(t *testing.T) {
	incident := time.Unix(1700000000, 0)
	plan, err := PlanUpload("incidents/x", incident, []UploadFile{
		{FileName: "/sdcard/Calls/customer.m4a", Role: "customer", RecordedAt: time.Unix(1700000100, 0)},
		{FileName: "manager_Ravi_00919876543210.opus", Role: "Manager"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if plan.ManifestKey != "incidents/x/incident_details.json" {
		t.Errorf("manifest key = %s", plan.ManifestKey)
	}
	if plan.Objects[0].Key != "incidents/x/0_Customer_customer.m4a" || plan.Objects[0].ContentType != "audio/mp4" {
		t.Errorf("object 0 = %+v", plan.Objects[0])
	}
	if plan.Objects[1].FileName != "1_Manager_manager_Ravi_00919876543210.opus" {
		t.Errorf("object 1 = %+v", plan.Objects[1])
	}

	body, err := plan.ManifestJSON()
	if err != nil {
		t.Fatal(err)
	}
	m, err := ParseManifest(body)
	if err != nil {
		t.Fatalf("planned manifest does not parse: %v", err)
	}
	if m.IncidentTime != 1700000000 || m.Files[0].DateUnix != 1700000100 || m.Files[1].DateUnix != 1700000000 {
		t.Errorf("manifest = %+v", m)
	}
	if m.Files[0].Role != "Customer" {
		t.Errorf("role should be normalized, got %s", m.Files[0].Role)
	}
}

func TestPlanUpload_Rejects(t *testing.T) {
	if _, err := PlanUpload("p", time.Now(), nil); err == nil {
		t.Error("expected error for no files")
	}
	if _, err := PlanUpload("p", time.Now(), []UploadFile{{FileName: "a.m4a", Role: "Chef"}}); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := PlanUpload("p", time.Now(), []UploadFile{{Role: "Customer"}}); err == nil {
		t.Error("expected error for missing file name")
	}
}
