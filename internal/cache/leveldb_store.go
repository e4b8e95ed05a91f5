package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldb 键空间：
//
//	p:<generation>                 分区标记
//	e:<generation>\x00<key>        codec 编码后的条目
const (
	partitionPrefix = "p:"
	entryPrefix     = "e:"
)

// NewLevelDBStore 在 path 下打开（或创建）leveldb 数据库。
func NewLevelDBStore(path string, codec Codec) (Store, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if codec == nil {
		return nil, errors.New("entry codec required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelStore{db: db, codec: codec}, nil
}

type levelStore struct {
	db    *leveldb.DB
	codec Codec

	// partMu 保证 DeletePartition 的批量删除不会与同分区的 Put 交错。
	partMu sync.RWMutex
}

func (s *levelStore) OpenPartition(ctx context.Context, name string) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	s.partMu.Lock()
	defer s.partMu.Unlock()
	return s.db.Put([]byte(partitionPrefix+name), []byte{1}, nil)
}

func (s *levelStore) Put(ctx context.Context, partition string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Key == "" {
		return errors.New("entry key required")
	}
	payload, err := s.codec.Encode(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	s.partMu.RLock()
	defer s.partMu.RUnlock()

	ok, err := s.db.Has([]byte(partitionPrefix+partition), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPartitionNotFound
	}
	return s.db.Put(entryKey(partition, entry.Key), payload, nil)
}

func (s *levelStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.partMu.RLock()
	defer s.partMu.RUnlock()

	payload, err := s.db.Get(entryKey(partition, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func (s *levelStore) Keys(ctx context.Context, partition string) ([]string, error) {
	s.partMu.RLock()
	defer s.partMu.RUnlock()

	ok, err := s.db.Has([]byte(partitionPrefix+partition), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	prefix := entryKey(partition, "")
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return keys, it.Error()
}

func (s *levelStore) DeletePartition(ctx context.Context, name string) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	s.partMu.Lock()
	defer s.partMu.Unlock()

	batch := new(leveldb.Batch)
	batch.Delete([]byte(partitionPrefix + name))

	it := s.db.NewIterator(util.BytesPrefix(entryKey(name, "")), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) ListPartitions(ctx context.Context) ([]string, error) {
	s.partMu.RLock()
	defer s.partMu.RUnlock()

	it := s.db.NewIterator(util.BytesPrefix([]byte(partitionPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(partitionPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

func entryKey(partition, key string) []byte {
	return []byte(entryPrefix + partition + "\x00" + key)
}
