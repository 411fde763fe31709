package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/gear6io/stratum/pkg/errors"
)

// Type is the backend name used in configuration
const Type = "memory"

// MemoryStorage keeps objects in a map. It is the backend for tests and
// for throwaway tables.
type MemoryStorage struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Read(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CommonCanceled, "read canceled", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.data[location]
	if !exists {
		return nil, errors.New(errors.StorageNotFound, "object not found", nil).AddContext("path", location)
	}
	return slices.Clone(data), nil
}

func (m *MemoryStorage) WriteNew(ctx context.Context, location string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CommonCanceled, "write canceled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[location]; exists {
		return errors.New(errors.StorageAlreadyExists, "object already exists", nil).AddContext("path", location)
	}
	m.data[location] = slices.Clone(data)
	return nil
}

func (m *MemoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CommonCanceled, "list canceled", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for loc := range m.data {
		if strings.HasPrefix(loc, prefix) {
			out = append(out, loc)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, location)
	return nil
}

// Exists checks if an object exists
func (m *MemoryStorage) Exists(location string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.data[location]
	return exists
}

// Len returns the number of stored objects
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
