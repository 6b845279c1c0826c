package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryGateway keeps objects in a map. It backs tests and dry runs.
type MemoryGateway struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway returns an empty in-memory bucket.
func NewMemoryGateway(bucket string) *MemoryGateway {
	return &MemoryGateway{bucket: bucket, objects: make(map[string][]byte)}
}

func (g *MemoryGateway) Bucket() string { return g.bucket }

func (g *MemoryGateway) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (g *MemoryGateway) Download(ctx context.Context, key string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.objects[key]
	if !ok {
		return nil, fmt.Errorf("download %s: no such key", key)
	}
	return append([]byte(nil), data...), nil
}

func (g *MemoryGateway) List(ctx context.Context, prefix string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var keys []string
	for k := range g.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *MemoryGateway) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?op=put&ttl=%s", g.bucket, key, ttl), nil
}

func (g *MemoryGateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?op=get&ttl=%s", g.bucket, key, ttl), nil
}
