package ingest

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/fpang/incident-tickets/internal/jobs"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

// UploadFile is one recording a client wants to upload.
type UploadFile struct {
	FileName   string    `json:"fileName" validate:"required"`
	Role       string    `json:"role" validate:"required"`
	RecordedAt time.Time `json:"recordedAt"`
}

// PlannedObject is where one recording must be uploaded.
type PlannedObject struct {
	Index       int    `json:"index"`
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
}

// UploadPlan lays out an incident upload. Recordings go first; the manifest
// is written last because its arrival triggers ingestion.
type UploadPlan struct {
	StoragePath string          `json:"storagePath"`
	Objects     []PlannedObject `json:"objects"`
	ManifestKey string          `json:"manifestKey"`
	Manifest    *Manifest       `json:"manifest"`
}

// NewStoragePath returns a fresh incidents/{date}/{id} prefix.
func NewStoragePath(now time.Time) string {
	return fmt.Sprintf("incidents/%s/%s", now.UTC().Format("2006-01-02"), jobs.NewID())
}

// PlanUpload assigns keys to files under storagePath and builds the
// manifest. Files without RecordedAt use incidentTime.
func PlanUpload(storagePath string, incidentTime time.Time, files []UploadFile) (*UploadPlan, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one recording is required")
	}
	plan := &UploadPlan{
		StoragePath: storagePath,
		ManifestKey: storagePath + "/" + ManifestName,
		Manifest:    &Manifest{IncidentTime: incidentTime.Unix()},
	}
	for i, f := range files {
		if err := validate.Struct(&f); err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		role, err := store.ParseRole(f.Role)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		key := storage.UploadKey(storagePath, i, string(role), f.FileName)
		recordedAt := f.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = incidentTime
		}
		plan.Objects = append(plan.Objects, PlannedObject{
			Index:       i,
			Key:         key,
			ContentType: storage.ContentTypeFor(key),
			FileName:    path.Base(key),
		})
		plan.Manifest.Files = append(plan.Manifest.Files, ManifestFile{
			FileName: path.Base(key),
			Role:     string(role),
			DateUnix: recordedAt.Unix(),
		})
	}
	return plan, nil
}

// ManifestJSON encodes the plan's manifest.
func (p *UploadPlan) ManifestJSON() ([]byte, error) {
	return json.Marshal(p.Manifest)
}
