package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// 支持的后端名称，对应配置项 StoreBackend。
const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Options 汇总构建 Store 所需的参数，由 CLI 根据配置填充。
type Options struct {
	Backend     string
	StoragePath string
	Codec       string
	// HotCacheSize 大于 0 时在后端之前叠加 ristretto 读缓存（单位字节）。
	HotCacheSize int64

	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// Open 根据 Options 选择后端并返回可直接使用的 Store。
func Open(opts Options) (Store, error) {
	codec, err := NewCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	var store Store
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFS:
		store, err = NewFileStore(opts.StoragePath, codec)
	case BackendLevelDB:
		store, err = NewLevelDBStore(filepath.Join(opts.StoragePath, "leveldb"), codec)
	case BackendSQLite:
		store, err = NewSQLiteStore(filepath.Join(opts.StoragePath, "shellcache.db"), codec)
	case BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		store, err = NewRedisStore(RedisOptions{Client: client, Prefix: opts.RedisPrefix, CloseClient: true}, codec)
	case BackendMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if opts.HotCacheSize > 0 {
		hot, err := NewHotStore(store, opts.HotCacheSize)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return hot, nil
	}
	return store, nil
}
