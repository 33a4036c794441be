package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

// Memory is an in-process Client for tests and the memory backend mode.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// FailPuts makes every Put fail. Test hook for storage outages.
	FailPuts bool
}

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPuts {
		return &asset.StorageError{Key: key, Err: context.DeadlineExceeded}
	}
	m.objects[key] = memoryObject{
		data:         append([]byte(nil), data...),
		contentType:  contentType,
		lastModified: time.Now().UTC(),
	}
	return nil
}

func (m *Memory) Head(_ context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, asset.ErrNotFound
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified}, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Object returns the stored bytes. Test helper.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}
