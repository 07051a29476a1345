package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/checksum"
	"github.com/starford/agencydesk/internal/models"
)

type memEntry struct {
	data      []byte
	updatedAt time.Time
}

// Memory implements Provider on an in-process map. Contents do not survive restarts.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]memEntry
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memEntry)}
}

func (m *Memory) List() ([]models.DocumentMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DocumentMeta, 0, len(m.docs))
	for k, e := range m.docs {
		out = append(out, models.DocumentMeta{
			Key:       k,
			Size:      len(e.data),
			Checksum:  checksum.Sum(e.data),
			UpdatedAt: e.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Read(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[key]
	if !ok {
		return nil, fmt.Errorf("storage: read %s: %w", key, apperr.ErrNotFound)
	}
	return append([]byte(nil), e.data...), nil
}

func (m *Memory) Write(key string, content []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = memEntry{data: append([]byte(nil), content...), updatedAt: time.Now()}
	return nil
}

func (m *Memory) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; !ok {
		return fmt.Errorf("storage: delete %s: %w", key, apperr.ErrNotFound)
	}
	delete(m.docs, key)
	return nil
}
