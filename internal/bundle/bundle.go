// Package bundle packs a ticket's recordings, transcript and extracted
// fields into one zstd-compressed ZIP in the recordings bucket.
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/metrics"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

// Key is where the bundle for a ticket is stored.
func Key(t *store.Ticket) string {
	return fmt.Sprintf("%s/exports/ticket-%s.zip", t.StoragePath, t.ID)
}

// Build downloads every recording, writes the archive and uploads it. It
// returns the bundle key.
func Build(ctx context.Context, gw storage.Gateway, t *store.Ticket, recs []*store.Recording) (string, error) {
	start := time.Now()
	var buf bytes.Buffer
	if err := Write(ctx, &buf, gw, t, recs); err != nil {
		return "", err
	}

	key := Key(t)
	if _, err := gw.Upload(ctx, key, buf.Bytes(), "application/zip"); err != nil {
		return "", fmt.Errorf("upload bundle: %w", err)
	}

	log.Info().
		Str("ticketId", t.ID).
		Str("key", key).
		Int("recordings", len(recs)).
		Int("bytes", buf.Len()).
		Dur("duration", time.Since(start)).
		Msg("Ticket bundle uploaded")
	metrics.Ticket("export").
		Metric("BundleBytes", float64(buf.Len()), metrics.UnitBytes).
		Since("BundleMs", start).
		Flush()
	return key, nil
}

// Write streams the archive to w. Entries: recordings/<file name>,
// transcript.txt (when present) and fields.json (when present).
func Write(ctx context.Context, w io.Writer, gw storage.Gateway, t *store.Ticket, recs []*store.Recording) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})

	for _, rec := range recs {
		key := storage.RecordingKey(t.StoragePath, rec.FileName)
		data, err := gw.Download(ctx, key)
		if err != nil {
			return fmt.Errorf("download %s: %w", key, err)
		}
		// Audio is already compressed; store it as-is.
		if err := addFile(zw, "recordings/"+rec.FileName, zip.Store, rec.RecordingTime, data); err != nil {
			return err
		}
	}

	if t.Transcription != nil {
		if err := addFile(zw, "transcript.txt", zipMethodZstd, t.CreatedAt, []byte(*t.Transcription)); err != nil {
			return err
		}
	}
	if len(t.ColumnsField) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, t.ColumnsField, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(t.ColumnsField)
		}
		if err := addFile(zw, "fields.json", zipMethodZstd, t.CreatedAt, pretty.Bytes()); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, name string, method uint16, modified time.Time, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modified})
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write zip entry %s: %w", name, err)
	}
	return nil
}
