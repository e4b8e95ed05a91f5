package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const entrySuffix = ".entry"

// NewFileStore 以 basePath 为根目录构建磁盘缓存，布局为：
//
//	<StoragePath>/<generation>/<sha1(key)>.entry    # codec 编码后的完整条目
func NewFileStore(basePath string, codec Codec) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if codec == nil {
		return nil, errors.New("entry codec required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		codec:    codec,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，分区级别的增删由 partMu 串行化。
type fileStore struct {
	basePath string
	codec    Codec

	partMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) OpenPartition(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionPath(name)
	if err != nil {
		return err
	}
	s.partMu.Lock()
	defer s.partMu.Unlock()
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) Put(ctx context.Context, partition string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionPath(partition)
	if err != nil {
		return err
	}
	if entry.Key == "" {
		return errors.New("entry key required")
	}

	s.partMu.RLock()
	defer s.partMu.RUnlock()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ErrPartitionNotFound
	}

	unlock := s.lockEntry(partition, entry.Key)
	defer unlock()

	payload, err := s.codec.Encode(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	filePath := s.entryPath(dir, entry.Key)
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dir, err := s.partitionPath(partition)
	if err != nil {
		return nil, err
	}

	s.partMu.RLock()
	defer s.partMu.RUnlock()

	return s.readEntry(s.entryPath(dir, key))
}

func (s *fileStore) Keys(ctx context.Context, partition string) ([]string, error) {
	dir, err := s.partitionPath(partition)
	if err != nil {
		return nil, err
	}

	s.partMu.RLock()
	defer s.partMu.RUnlock()

	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		entry, err := s.readEntry(filepath.Join(dir, item.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	return keys, nil
}

func (s *fileStore) DeletePartition(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionPath(name)
	if err != nil {
		return err
	}
	s.partMu.Lock()
	defer s.partMu.Unlock()
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) ListPartitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.partMu.RLock()
	defer s.partMu.RUnlock()

	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && !strings.HasPrefix(item.Name(), ".") {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) readEntry(filePath string) (*Entry, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	payload, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", filepath.Base(filePath), err)
	}
	return &entry, nil
}

func (s *fileStore) lockEntry(partition, key string) func() {
	lockKey := partition + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) partitionPath(name string) (string, error) {
	if err := ValidatePartitionName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, name)
	if !strings.HasPrefix(dir, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return dir, nil
}

func (s *fileStore) entryPath(dir, key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+entrySuffix)
}
