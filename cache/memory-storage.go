package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStorage keeps partitions in process memory.
// Contents are lost when the process exits.
type MemStorage struct {
	mutex      *sync.RWMutex
	partitions map[string]map[string]Entry
	order      []string
}

type memPartition struct {
	name    string
	storage *MemStorage
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		mutex:      &sync.RWMutex{},
		partitions: make(map[string]map[string]Entry),
	}
}

func (m *MemStorage) Open(ctx context.Context, name string) (Partition, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ensure(name)
	return memPartition{name: name, storage: m}, nil
}

// ensure registers the partition if it does not exist.
// The caller must hold the write lock.
func (m *MemStorage) ensure(name string) map[string]Entry {
	entries, ok := m.partitions[name]
	if !ok {
		entries = make(map[string]Entry)
		m.partitions[name] = entries
		m.order = append(m.order, name)
	}
	return entries
}

func (m *MemStorage) Has(ctx context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.partitions[name]
	return ok, nil
}

func (m *MemStorage) Names(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names, nil
}

func (m *MemStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.partitions[name]; !ok {
		return false, nil
	}
	delete(m.partitions, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemStorage) Match(ctx context.Context, key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, name := range m.order {
		if entry, ok := m.partitions[name][key]; ok {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

func (p memPartition) Name() string {
	return p.name
}

func (p memPartition) Get(ctx context.Context, key string) (Entry, bool, error) {
	p.storage.mutex.RLock()
	defer p.storage.mutex.RUnlock()
	entry, ok := p.storage.partitions[p.name][key]
	return entry, ok, nil
}

// Put writes the entry, recreating the partition if it was deleted in the meantime.
func (p memPartition) Put(ctx context.Context, entry Entry) error {
	p.storage.mutex.Lock()
	defer p.storage.mutex.Unlock()
	p.storage.ensure(p.name)[entry.Key] = entry
	return nil
}

func (p memPartition) Delete(ctx context.Context, key string) (bool, error) {
	p.storage.mutex.Lock()
	defer p.storage.mutex.Unlock()
	entries, ok := p.storage.partitions[p.name]
	if !ok {
		return false, nil
	}
	_, ok = entries[key]
	delete(entries, key)
	return ok, nil
}

func (p memPartition) Keys(ctx context.Context) ([]string, error) {
	p.storage.mutex.RLock()
	defer p.storage.mutex.RUnlock()
	entries := p.storage.partitions[p.name]
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
