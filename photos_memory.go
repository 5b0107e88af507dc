package devicekit

import (
	"bytes"
	"context"
	"io"
	"sync"
)

type memoryPhoto struct {
	data        []byte
	contentType string
}

// MemoryPhotoStore keeps photos in process memory. Meant for tests and
// local development.
type MemoryPhotoStore struct {
	mu      sync.RWMutex
	objects map[string]memoryPhoto
}

// NewMemoryPhotoStore creates an empty in-memory photo store.
func NewMemoryPhotoStore() *MemoryPhotoStore {
	return &MemoryPhotoStore{objects: make(map[string]memoryPhoto)}
}

// Put stores content under key.
func (s *MemoryPhotoStore) Put(_ context.Context, key string, content io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryPhoto{data: data, contentType: contentType}
	return nil
}

// Get returns a reader over the object stored under key.
func (s *MemoryPhotoStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", NewError(ErrNotFound, "photo not found")
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

// Delete removes the object stored under key.
func (s *MemoryPhotoStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryPhotoStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
