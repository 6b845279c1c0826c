package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fpang/incident-tickets/internal/store"
)

// ManifestName is the object name that marks a complete incident upload.
const ManifestName = "incident_details.json"

// ErrInvalidManifest wraps every manifest decode or validation failure.
var ErrInvalidManifest = errors.New("invalid incident manifest")

// Manifest is the incident_details.json document written by the uploader
// after every recording is in place.
type Manifest struct {
	IncidentTime int64          `json:"incidentTime" validate:"required"`
	Files        []ManifestFile `json:"files" validate:"dive"`
}

// ManifestFile describes one uploaded recording.
type ManifestFile struct {
	FileName string `json:"fileName" validate:"required"`
	Role     string `json:"role" validate:"required"`
	DateUnix int64  `json:"dateUNIX" validate:"gt=0"`
}

var validate = validator.New()

// IsManifestKey reports whether an object key names an incident manifest.
func IsManifestKey(key string) bool {
	return path.Base(key) == ManifestName
}

// ParseManifest decodes and validates a manifest. Roles are checked
// case-insensitively.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := validate.Struct(&m); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			msgs := make([]string, 0, len(verr))
			for _, fe := range verr {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	for i, f := range m.Files {
		if _, err := store.ParseRole(f.Role); err != nil {
			return nil, fmt.Errorf("%w: files[%d]: %v", ErrInvalidManifest, i, err)
		}
	}
	return &m, nil
}

// IncidentAt returns the incident time as a UTC timestamp.
func (m *Manifest) IncidentAt() time.Time {
	return time.Unix(m.IncidentTime, 0).UTC()
}

// Recordings builds the recording rows for ticketID. ParseManifest has
// already checked every role.
func (m *Manifest) Recordings(ticketID string) []*store.Recording {
	recs := make([]*store.Recording, 0, len(m.Files))
	for _, f := range m.Files {
		role, _ := store.ParseRole(f.Role)
		recs = append(recs, &store.Recording{
			TicketID:      ticketID,
			FileName:      f.FileName,
			Role:          role,
			RecordingTime: time.Unix(f.DateUnix, 0).UTC(),
		})
	}
	return recs
}
