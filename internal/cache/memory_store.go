package cache

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryStore 返回进程内存储，进程退出即丢失，适合测试与无盘部署。
func NewMemoryStore() Store {
	return &memoryStore{partitions: make(map[string]map[string]*Entry)}
}

type memoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*Entry
}

func (s *memoryStore) OpenPartition(ctx context.Context, name string) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = make(map[string]*Entry)
	}
	return nil
}

func (s *memoryStore) Put(ctx context.Context, partition string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[partition]
	if !ok {
		return ErrPartitionNotFound
	}
	part[entry.Key] = entry.Clone()
	return nil
}

func (s *memoryStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.partitions[partition][key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (s *memoryStore) Keys(ctx context.Context, partition string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.partitions[partition]
	if !ok {
		return nil, ErrNotFound
	}
	keys := make([]string, 0, len(part))
	for key := range part {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryStore) DeletePartition(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, name)
	return nil
}

func (s *memoryStore) ListPartitions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Close() error {
	return nil
}
