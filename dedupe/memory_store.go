package dedupe

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]struct{}),
	}
}

func (m *MemoryStore) Seen(_ context.Context, queueURL, messageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[m.key(queueURL, messageID)]
	return ok, nil
}

func (m *MemoryStore) Mark(_ context.Context, queueURL, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.key(queueURL, messageID)] = struct{}{}
	return nil
}

func (m *MemoryStore) Forget(_ context.Context, queueURL, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.key(queueURL, messageID))
	return nil
}

func (m *MemoryStore) key(queueURL, messageID string) string {
	return queueURL + ":" + messageID
}
