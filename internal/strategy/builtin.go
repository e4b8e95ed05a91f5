package strategy

import (
	"context"
)

const (
	NameCacheFirst           = "cache-first"
	NameNetworkFirst         = "network-first"
	NameNetworkOnly          = "network-only"
	NameStaleWhileRevalidate = "stale-while-revalidate"
)

func init() {
	MustRegister(CacheFirst{})
	MustRegister(NetworkFirst{})
	MustRegister(NetworkOnly{})
	MustRegister(StaleWhileRevalidate{})
}

// CacheFirst 命中即返回且不触网；miss 时回源，成功则交给 Populator，
// 失败时若配置了按目的地的回退文档则返回之，否则返回 ErrNetworkFailure。
type CacheFirst struct{}

func (CacheFirst) Name() string { return NameCacheFirst }

func (CacheFirst) Resolve(ctx context.Context, env Env, req *Request) (*Result, error) {
	if cached := env.lookup(ctx, req); cached != nil {
		return env.result(cached, SourceCache), nil
	}
	resp, err := env.fetch(ctx, req)
	if err != nil {
		if fb := env.fallback(ctx); fb != nil {
			return env.result(fb, SourceFallback), nil
		}
		return nil, err
	}
	env.populate(ctx, req, resp)
	return env.result(resp, SourceNetwork), nil
}

// NetworkFirst 优先走网络；网络失败时用激活分区中的回退文档替代，
// 回退文档也不存在时才把网络错误返回给调用方。成功响应同样交给 Populator。
type NetworkFirst struct{}

func (NetworkFirst) Name() string { return NameNetworkFirst }

func (NetworkFirst) Resolve(ctx context.Context, env Env, req *Request) (*Result, error) {
	resp, err := env.fetch(ctx, req)
	if err == nil {
		env.populate(ctx, req, resp)
		return env.result(resp, SourceNetwork), nil
	}
	if fb := env.fallback(ctx); fb != nil {
		return env.result(fb, SourceFallback), nil
	}
	return nil, err
}

// NetworkOnly 只访问网络，不读也不写缓存。
type NetworkOnly struct{}

func (NetworkOnly) Name() string { return NameNetworkOnly }

func (NetworkOnly) Resolve(ctx context.Context, env Env, req *Request) (*Result, error) {
	resp, err := env.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Entry: resp, Source: SourceNetwork}, nil
}

// StaleWhileRevalidate 命中时立即返回缓存，同时在后台回源刷新；miss 时行为同 CacheFirst。
type StaleWhileRevalidate struct{}

func (StaleWhileRevalidate) Name() string { return NameStaleWhileRevalidate }

func (StaleWhileRevalidate) Resolve(ctx context.Context, env Env, req *Request) (*Result, error) {
	cached := env.lookup(ctx, req)
	if cached == nil {
		return CacheFirst{}.Resolve(ctx, env, req)
	}

	bg := context.WithoutCancel(ctx)
	refresh := req.Clone()
	env.spawn(func() {
		resp, err := env.fetch(bg, refresh)
		if err != nil {
			return
		}
		env.populate(bg, refresh, resp)
	})
	return env.result(cached, SourceCache), nil
}
