package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioConfig describes an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// MinioGateway implements Gateway on MinIO or any S3-compatible store.
type MinioGateway struct {
	client *minio.Client
	bucket string
}

var _ Gateway = (*MinioGateway)(nil)

// NewMinioGateway connects to the endpoint and creates the bucket if it
// does not exist yet.
func NewMinioGateway(ctx context.Context, cfg MinioConfig) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("MinIO bucket created")
	}

	return &MinioGateway{client: client, bucket: cfg.Bucket}, nil
}

func (g *MinioGateway) Bucket() string { return g.bucket }

func (g *MinioGateway) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := g.client.PutObject(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("MinIO PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", g.bucket).Str("key", key).Int("bytes", len(data)).Msg("Uploaded to MinIO")
	return key, nil
}

func (g *MinioGateway) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("MinIO GetObject %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (g *MinioGateway) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("MinIO ListObjects %s: %w", prefix, object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func (g *MinioGateway) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	u, err := g.client.PresignedPutObject(ctx, g.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign PutObject %s: %w", key, err)
	}
	return u.String(), nil
}

func (g *MinioGateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, g.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return u.String(), nil
}
