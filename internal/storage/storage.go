// Package storage is the object store gateway for call recordings,
// incident manifests and export bundles.
//
// Gateway has two implementations: S3Gateway (AWS S3) and MinioGateway
// (any S3-compatible endpoint, used for local and self-hosted setups).
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// DefaultBucket is the bucket name used when none is configured.
const DefaultBucket = "call-recordings"

// Gateway reads and writes objects in a single bucket.
type Gateway interface {
	// Upload stores data under key and returns the key.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Download returns the full object body.
	Download(ctx context.Context, key string) ([]byte, error)

	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// PresignUpload returns a URL a client can PUT the object to.
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)

	// PresignDownload returns a URL a third party can GET the object from.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Bucket names the backing bucket.
	Bucket() string
}

// UploadKey builds the object key for one recording of an incident:
// {storagePath}/{index}_{role}_{fileName}.
func UploadKey(storagePath string, index int, role, fileName string) string {
	return fmt.Sprintf("%s/%d_%s_%s", strings.TrimSuffix(storagePath, "/"), index, role, path.Base(fileName))
}

// RecordingKey is where the processor reads a recording from:
// {storagePath}/{fileName}.
func RecordingKey(storagePath, fileName string) string {
	return strings.TrimSuffix(storagePath, "/") + "/" + fileName
}

// ParentDir returns the directory part of key without a trailing slash,
// or "" for a top-level key.
func ParentDir(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i]
}

// audio MIME types by extension. Opus recordings from phone dialers come
// in an Ogg container.
var audioTypes = map[string]string{
	".opus": "audio/ogg",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".amr":  "audio/amr",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// ContentTypeFor guesses a MIME type from the key's extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	switch ext {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}

// IsAudio reports whether key has a known audio extension.
func IsAudio(key string) bool {
	_, ok := audioTypes[strings.ToLower(path.Ext(key))]
	return ok
}
