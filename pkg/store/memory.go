package store

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. It backs tests and hosts
// without a durable medium; contents vanish with the process.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	return m.getLocked(key)
}

func (m *MemoryStore) getLocked(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.setLocked(key, value)
	return nil
}

func (m *MemoryStore) setLocked(key string, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

// Update stages writes and applies them only if fn returns nil.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tx := &memoryTx{store: m, writes: map[string][]byte{}, deletes: map[string]bool{}}
	if err := fn(tx); err != nil {
		return err
	}
	for key := range tx.deletes {
		delete(m.data, key)
	}
	for key, value := range tx.writes {
		m.setLocked(key, value)
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	writes  map[string][]byte
	deletes map[string]bool
}

func (t *memoryTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.deletes[key] {
		return nil, false, nil
	}
	if v, ok := t.writes[key]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, true, nil
	}
	return t.store.getLocked(key)
}

func (t *memoryTx) Set(ctx context.Context, key string, value []byte) error {
	delete(t.deletes, key)
	v := make([]byte, len(value))
	copy(v, value)
	t.writes[key] = v
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, key string) error {
	delete(t.writes, key)
	t.deletes[key] = true
	return nil
}
