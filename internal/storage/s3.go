package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client used by S3Gateway.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner is the subset of *s3.PresignClient used by S3Gateway.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Gateway implements Gateway on an AWS S3 bucket.
type S3Gateway struct {
	client    S3API
	presigner Presigner
	bucket    string
}

var _ Gateway = (*S3Gateway)(nil)

// NewS3Gateway creates a gateway for bucket. presigner may be nil when
// presigned URLs are not needed.
func NewS3Gateway(client S3API, presigner Presigner, bucket string) *S3Gateway {
	return &S3Gateway{client: client, presigner: presigner, bucket: bucket}
}

func (g *S3Gateway) Bucket() string { return g.bucket }

func (g *S3Gateway) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &g.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", g.bucket).Str("key", key).Int("bytes", len(data)).Msg("Uploaded to S3")
	return key, nil
}

func (g *S3Gateway) Download(ctx context.Context, key string) ([]byte, error) {
	log.Debug().Str("bucket", g.bucket).Str("key", key).Msg("Downloading from S3")
	result, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &g.bucket, Key: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (g *S3Gateway) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: &g.bucket,
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (g *S3Gateway) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if g.presigner == nil {
		return "", fmt.Errorf("presign PutObject %s: no presigner configured", key)
	}
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	result, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &g.bucket,
		Key:         &key,
		ContentType: &contentType,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign PutObject %s: %w", key, err)
	}
	return result.URL, nil
}

func (g *S3Gateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if g.presigner == nil {
		return "", fmt.Errorf("presign GetObject %s: no presigner configured", key)
	}
	result, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &g.bucket, Key: &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return result.URL, nil
}
