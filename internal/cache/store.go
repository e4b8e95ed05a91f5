package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store 负责按 Generation 分区持久化响应快照。磁盘/数据库布局由各后端自行决定，
// 但所有实现都必须满足：
//
//	分区之间完全隔离；同一分区内同一 Key 后写覆盖先写；
//	DeletePartition 之后该分区的 Get 全部 miss，Put 返回 ErrPartitionNotFound。
type Store interface {
	// OpenPartition 打开（不存在时创建）指定名称的分区，重复调用是幂等的。
	OpenPartition(ctx context.Context, name string) error

	// Put 将 entry 写入分区，entry.Key 为存储标识；分区不存在时返回 ErrPartitionNotFound。
	Put(ctx context.Context, partition string, entry Entry) error

	// Get 返回分区内 key 对应的条目。若分区或条目不存在则返回 ErrNotFound。
	Get(ctx context.Context, partition, key string) (*Entry, error)

	// Keys 返回分区内全部条目的存储标识，顺序不做保证。
	Keys(ctx context.Context, partition string) ([]string, error)

	// DeletePartition 整体删除分区及其全部条目，分区不存在时不报错。
	DeletePartition(ctx context.Context, name string) error

	// ListPartitions 按名称排序返回当前存在的全部分区。
	ListPartitions(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Entry 是一次响应的不可变快照：状态码、响应头、正文，以及写入时请求侧 Vary 头的取值。
type Entry struct {
	Key      string      `msgpack:"key" cbor:"1,keyasint"`
	Status   int         `msgpack:"status" cbor:"2,keyasint"`
	Header   http.Header `msgpack:"header" cbor:"3,keyasint"`
	Body     []byte      `msgpack:"body" cbor:"4,keyasint"`
	Vary     http.Header `msgpack:"vary,omitempty" cbor:"5,keyasint,omitempty"`
	StoredAt time.Time   `msgpack:"stored_at" cbor:"6,keyasint"`
}

// Clone 深拷贝条目，调用方可以安全地修改返回值而不影响存储中的副本。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Header = e.Header.Clone()
	out.Vary = e.Vary.Clone()
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return &out
}

// OK 对应 fetch 语义中的 response.ok（2xx）。
func (e *Entry) OK() bool {
	return e != nil && e.Status >= 200 && e.Status < 300
}

var (
	// ErrNotFound 表示分区或条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrPartitionNotFound 表示写入目标分区尚未打开或已被删除。
	ErrPartitionNotFound = errors.New("cache partition not found")
)

// ValidatePartitionName 拒绝会逃逸存储根目录或与内部分隔符冲突的分区名。
func ValidatePartitionName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("partition name required")
	case name == "." || name == "..":
		return fmt.Errorf("invalid partition name: %s", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("invalid partition name: %s", name)
	}
	return nil
}
