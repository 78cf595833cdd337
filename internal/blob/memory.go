package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
	types   map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// Set stores data at url, overwriting any existing object.
func (m *MemoryStore) Set(url string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = append([]byte(nil), data...)
}

// Get returns the object at url and whether it exists.
func (m *MemoryStore) Get(url string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[url]
	return data, ok
}

// ContentType returns the content type recorded by Put.
func (m *MemoryStore) ContentType(url string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[url]
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	if _, _, err := ParseURL(url); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m.Get(url)
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	data, err := m.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Put(ctx context.Context, path string, data io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	url := URL(m.bucket, path)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = buf.Bytes()
	m.types[url] = contentType
	return url, nil
}
