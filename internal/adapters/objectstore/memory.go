package objectstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory double used by adapter, stage and
// pipeline tests in place of S3Store (spec.md §4.1 "tests substitute
// in-memory doubles").
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func key(bucket, path string) string { return bucket + "/" + path }

func (m *MemoryStore) Read(ctx context.Context, bucket, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key(bucket, path)]
	if !ok {
		return nil, &NotFoundError{Bucket: bucket, Path: path}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStore) Write(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	k := key(bucket, path)
	m.objects[k] = cp
	m.types[k] = contentType
	return URI(bucket, path), nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcBucket, srcPath, dstBucket, dstPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srcKey := key(srcBucket, srcPath)
	data, ok := m.objects[srcKey]
	if !ok {
		return "", &NotFoundError{Bucket: srcBucket, Path: srcPath}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	dstKey := key(dstBucket, dstPath)
	m.objects[dstKey] = cp
	m.types[dstKey] = m.types[srcKey]
	return URI(dstBucket, dstPath), nil
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(bucket, path)
	if _, ok := m.objects[k]; !ok {
		return &NotFoundError{Bucket: bucket, Path: path}
	}
	delete(m.objects, k)
	delete(m.types, k)
	return nil
}

// Exists reports whether bucket/path has been written — a test helper,
// not part of the Store interface.
func (m *MemoryStore) Exists(bucket, path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key(bucket, path)]
	return ok
}

// Keys lists every path written under bucket — a test helper, not part
// of the Store interface.
func (m *MemoryStore) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := bucket + "/"
	var keys []string
	for k := range m.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys
}
