package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// HotStore 在任意 Store 前面加一层 ristretto 内存读缓存。写入会失效对应 key，
// 删除分区会清空整层，因此读到的永远是后端当前可见的数据或其副本。
type HotStore struct {
	Store
	hot *ristretto.Cache

	// epoch 在每次写入/删除时递增；读路径只在 epoch 未变化时回填，避免旧值覆盖失效。
	mu    sync.Mutex
	epoch uint64
}

// NewHotStore 以 maxBytes 为容量上限包装 backing，maxBytes<=0 时返回错误。
func NewHotStore(backing Store, maxBytes int64) (*HotStore, error) {
	if backing == nil {
		return nil, errors.New("backing store required")
	}
	if maxBytes <= 0 {
		return nil, errors.New("hot cache size must be positive")
	}
	counters := maxBytes / 1024 * 10
	if counters < 1000 {
		counters = 1000
	}
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &HotStore{Store: backing, hot: hot}, nil
}

func (s *HotStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	hotKey := partition + "\x00" + key
	if value, ok := s.hot.Get(hotKey); ok {
		if entry, ok := value.(*Entry); ok && entry != nil {
			return entry.Clone(), nil
		}
		s.hot.Del(hotKey)
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	entry, err := s.Store.Get(ctx, partition, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.hot.Set(hotKey, entry.Clone(), entryCost(entry))
	}
	s.mu.Unlock()
	return entry, nil
}

func (s *HotStore) Put(ctx context.Context, partition string, entry Entry) error {
	if err := s.Store.Put(ctx, partition, entry); err != nil {
		return err
	}
	s.bump()
	// 先等待缓冲区里的 Set 落地，避免旧值在 Del 之后被重新写入。
	s.hot.Wait()
	s.hot.Del(partition + "\x00" + entry.Key)
	return nil
}

func (s *HotStore) DeletePartition(ctx context.Context, name string) error {
	if err := s.Store.DeletePartition(ctx, name); err != nil {
		return err
	}
	s.bump()
	s.hot.Wait()
	s.hot.Clear()
	return nil
}

func (s *HotStore) bump() {
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()
}

// Wait 阻塞到所有挂起的写入被 ristretto 处理完毕。
func (s *HotStore) Wait() {
	s.hot.Wait()
}

func (s *HotStore) Close() error {
	s.hot.Close()
	return s.Store.Close()
}

func entryCost(entry *Entry) int64 {
	cost := int64(len(entry.Body) + len(entry.Key))
	for name, values := range entry.Header {
		cost += int64(len(name))
		for _, v := range values {
			cost += int64(len(v))
		}
	}
	if cost <= 0 {
		cost = 1
	}
	return cost
}
