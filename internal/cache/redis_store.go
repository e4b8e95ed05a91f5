package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNilRedisClient 表示未注入 redis 客户端。
var ErrNilRedisClient = errors.New("redis store: nil client")

// redis 键空间：
//
//	<prefix>partitions          SET，记录全部分区名
//	<prefix>gen:<generation>    HASH，field 为条目 key，value 为 codec 编码后的条目
type redisStore struct {
	rdb         goredis.UniversalClient
	prefix      string
	codec       Codec
	closeClient bool
}

// RedisOptions 控制 redis 后端的键前缀与客户端所有权。
type RedisOptions struct {
	Client goredis.UniversalClient
	Prefix string
	// CloseClient 为 true 时 Close 会关闭客户端，仅在本存储独占客户端时设置。
	CloseClient bool
}

// NewRedisStore 基于已有客户端构建存储，适合多实例共享同一份缓存。
func NewRedisStore(opts RedisOptions, codec Codec) (Store, error) {
	if opts.Client == nil {
		return nil, ErrNilRedisClient
	}
	if codec == nil {
		return nil, errors.New("entry codec required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "shellcache:"
	}
	return &redisStore{
		rdb:         opts.Client,
		prefix:      prefix,
		codec:       codec,
		closeClient: opts.CloseClient,
	}, nil
}

func (s *redisStore) partitionsKey() string {
	return s.prefix + "partitions"
}

func (s *redisStore) hashKey(partition string) string {
	return s.prefix + "gen:" + partition
}

func (s *redisStore) OpenPartition(ctx context.Context, name string) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, s.partitionsKey(), name).Err()
}

func (s *redisStore) Put(ctx context.Context, partition string, entry Entry) error {
	if entry.Key == "" {
		return errors.New("entry key required")
	}
	ok, err := s.rdb.SIsMember(ctx, s.partitionsKey(), partition).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrPartitionNotFound
	}
	payload, err := s.codec.Encode(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return s.rdb.HSet(ctx, s.hashKey(partition), entry.Key, payload).Err()
}

func (s *redisStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	payload, err := s.rdb.HGet(ctx, s.hashKey(partition), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func (s *redisStore) Keys(ctx context.Context, partition string) ([]string, error) {
	ok, err := s.rdb.SIsMember(ctx, s.partitionsKey(), partition).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.rdb.HKeys(ctx, s.hashKey(partition)).Result()
}

func (s *redisStore) DeletePartition(ctx context.Context, name string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(name))
		pipe.SRem(ctx, s.partitionsKey(), name)
		return nil
	})
	return err
}

func (s *redisStore) ListPartitions(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.partitionsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close 仅在拥有客户端时关闭它，重复调用安全。
func (s *redisStore) Close() error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
