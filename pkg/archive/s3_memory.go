package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryS3Client is an in-memory S3Client for tests and single-process
// deployments that don't need durable object storage.
type MemoryS3Client struct {
	mu          sync.Mutex
	segments    map[string][]byte
	indexes     map[string][]byte
	bucketReady bool
}

// NewMemoryS3Client constructs an empty MemoryS3Client.
func NewMemoryS3Client() *MemoryS3Client {
	return &MemoryS3Client{
		segments: make(map[string][]byte),
		indexes:  make(map[string][]byte),
	}
}

func (m *MemoryS3Client) EnsureBucket(ctx context.Context) error {
	m.mu.Lock()
	m.bucketReady = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryS3Client) UploadSegment(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryS3Client) UploadIndex(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryS3Client) DownloadSegment(ctx context.Context, key string, rng *ByteRange) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.segments[key]
	if !ok {
		return nil, fmt.Errorf("archive: segment %s not found", key)
	}
	if rng == nil {
		return append([]byte(nil), data...), nil
	}
	start, end := rng.Start, rng.End
	if start < 0 {
		start = 0
	}
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	if start > end || start >= int64(len(data)) {
		return nil, fmt.Errorf("archive: segment %s range %d-%d invalid", key, rng.Start, rng.End)
	}
	return append([]byte(nil), data[start:end+1]...), nil
}

func (m *MemoryS3Client) DownloadIndex(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.indexes[key]
	if !ok {
		return nil, fmt.Errorf("archive: index %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryS3Client) ListSegments(ctx context.Context, prefix string) ([]S3Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]S3Object, 0)
	for key, data := range m.segments {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, S3Object{Key: key, Size: int64(len(data))})
	}
	return out, nil
}
