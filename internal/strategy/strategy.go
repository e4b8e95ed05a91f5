package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/any-hub/shellcache/internal/cache"
)

// ErrNetworkFailure 表示网络请求未能得到任何响应（连接失败、超时等）。
// 非 2xx 响应不属于网络失败，会原样返回给调用方。
var ErrNetworkFailure = errors.New("network failure")

// Network 代表真正的出站网络，返回完整读取后的响应快照。
type Network interface {
	Fetch(ctx context.Context, req *Request) (*cache.Entry, error)
}

// Generation 是策略可见的当前激活分区；nil 表示尚未有任何 Generation 激活。
type Generation interface {
	Name() string
	// Match 查找与请求 Resource Key 及 Vary 快照匹配的条目，miss 时返回 cache.ErrNotFound。
	Match(ctx context.Context, req *Request) (*cache.Entry, error)
	// MatchURL 以 GET + 绝对 URL 查找条目并忽略 Vary，用于回退文档。
	MatchURL(ctx context.Context, rawURL string) (*cache.Entry, error)
	Put(ctx context.Context, entry cache.Entry) error
}

// Populator 在网络成功后把响应写入激活分区，写入失败不得影响返回值。
type Populator interface {
	Populate(ctx context.Context, gen Generation, req *Request, resp *cache.Entry)
}

// Source 标记结果来源，写入 X-Shellcache-Source 响应头。
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Result 是一次策略解析的产出。
type Result struct {
	Entry  *cache.Entry
	Source Source
	// Generation 为参与解析的分区名，未激活时为空。
	Generation string
}

// Env 汇总策略执行所需的协作者，由 Router 按请求构造。
type Env struct {
	Generation Generation
	Network    Network
	Populator  Populator
	// Fallback 是网络失败时替代的文档 URL（绝对地址），为空表示无回退。
	Fallback string
	// Go 在当前租约保持有效的前提下异步执行 fn；为 nil 时同步执行。
	Go func(fn func())
}

// Strategy 是一个具名的请求解析策略。
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, env Env, req *Request) (*Result, error)
}

func (e Env) generationName() string {
	if e.Generation == nil {
		return ""
	}
	return e.Generation.Name()
}

// lookup 在激活分区中查找请求；没有分区或读取失败一律视为 miss。
func (e Env) lookup(ctx context.Context, req *Request) *cache.Entry {
	if e.Generation == nil {
		return nil
	}
	entry, err := e.Generation.Match(ctx, req)
	if err != nil {
		return nil
	}
	return entry
}

func (e Env) fallback(ctx context.Context) *cache.Entry {
	if e.Generation == nil || e.Fallback == "" {
		return nil
	}
	entry, err := e.Generation.MatchURL(ctx, e.Fallback)
	if err != nil {
		return nil
	}
	return entry
}

func (e Env) fetch(ctx context.Context, req *Request) (*cache.Entry, error) {
	if e.Network == nil {
		return nil, fmt.Errorf("%w: network unavailable", ErrNetworkFailure)
	}
	resp, err := e.Network.Fetch(ctx, req)
	if err != nil {
		if errors.Is(err, ErrNetworkFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	return resp, nil
}

// populate 把成功响应交给 Populator。导航文档不写入：
// 离线时导航由 FallbackDocument 提供，逐页缓存只会堆积深链接页面。
func (e Env) populate(ctx context.Context, req *Request, resp *cache.Entry) {
	if e.Populator == nil || e.Generation == nil || req.IsNavigation() {
		return
	}
	e.Populator.Populate(ctx, e.Generation, req, resp)
}

func (e Env) spawn(fn func()) {
	if e.Go == nil {
		fn()
		return
	}
	e.Go(fn)
}

func (e Env) result(entry *cache.Entry, source Source) *Result {
	return &Result{Entry: entry, Source: source, Generation: e.generationName()}
}
