package tablestore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryService is an in-process Service. It backs `memory://` connection
// strings and the package tests of every pipeline stage.
type MemoryService struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]map[string]any // table -> partition -> row -> props
}

// NewMemoryService returns an empty MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{tables: make(map[string]map[string]map[string]map[string]any)}
}

// CreateTable implements Service.
func (s *MemoryService) CreateTable(_ context.Context, name string) (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[name]; ok {
		return nil, fmt.Errorf("create table %q: %w", name, ErrTableExists)
	}
	s.tables[name] = make(map[string]map[string]map[string]any)
	return &memoryTable{svc: s, name: name}, nil
}

// Table implements Service.
func (s *MemoryService) Table(name string) Table {
	return &memoryTable{svc: s, name: name}
}

// Count returns the number of entities stored in the table.
func (s *MemoryService) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rows := range s.tables[name] {
		n += len(rows)
	}
	return n
}

type memoryTable struct {
	svc  *MemoryService
	name string
}

func (t *memoryTable) UpsertEntity(_ context.Context, e Entity) error {
	t.svc.mu.Lock()
	defer t.svc.mu.Unlock()

	partitions, ok := t.svc.tables[t.name]
	if !ok {
		return fmt.Errorf("upsert into %q: %w", t.name, ErrTableNotFound)
	}
	rows, ok := partitions[e.PartitionKey]
	if !ok {
		rows = make(map[string]map[string]any)
		partitions[e.PartitionKey] = rows
	}
	rows[e.RowKey] = maps.Clone(e.Properties)
	return nil
}

func (t *memoryTable) GetEntity(_ context.Context, partitionKey, rowKey string) (Entity, error) {
	t.svc.mu.RLock()
	defer t.svc.mu.RUnlock()

	partitions, ok := t.svc.tables[t.name]
	if !ok {
		return Entity{}, fmt.Errorf("get from %q: %w", t.name, ErrTableNotFound)
	}
	props, ok := partitions[partitionKey][rowKey]
	if !ok {
		return Entity{}, ErrEntityNotFound
	}
	return Entity{PartitionKey: partitionKey, RowKey: rowKey, Properties: maps.Clone(props)}, nil
}

func (t *memoryTable) ListEntities(_ context.Context, partitionKey string) ([]Entity, error) {
	t.svc.mu.RLock()
	defer t.svc.mu.RUnlock()

	partitions, ok := t.svc.tables[t.name]
	if !ok {
		return nil, fmt.Errorf("list %q: %w", t.name, ErrTableNotFound)
	}
	rows := partitions[partitionKey]
	entities := make([]Entity, 0, len(rows))
	for _, rk := range slices.Sorted(maps.Keys(rows)) {
		entities = append(entities, Entity{PartitionKey: partitionKey, RowKey: rk, Properties: maps.Clone(rows[rk])})
	}
	return entities, nil
}
