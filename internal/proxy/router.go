package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/generation"
	"github.com/any-hub/shellcache/internal/strategy"
)

// RouterOptions 描述 Router 的协作者与路由规则。
type RouterOptions struct {
	Manager   *generation.Manager
	Network   strategy.Network
	Populator strategy.Populator
	Logger    *logrus.Logger

	// Navigation 用于顶层文档导航，默认 network-first。
	Navigation strategy.Strategy
	// Asset 用于其余 GET 请求，默认 cache-first。
	Asset strategy.Strategy
	// FallbackDocument 是导航在网络失败时返回的文档（绝对 URL）。
	FallbackDocument string
	// Fallbacks 按 Sec-Fetch-Dest（小写）配置静态资源的回退文档（绝对 URL）。
	Fallbacks map[string]string
}

// Router 根据请求类型选择策略，并为每个 GET 请求持有一次激活分区的租约。
type Router struct {
	manager    *generation.Manager
	network    strategy.Network
	populator  strategy.Populator
	logger     *logrus.Logger
	navigation strategy.Strategy
	asset      strategy.Strategy
	fallback   string
	fallbacks  map[string]string

	background sync.WaitGroup
}

// NewRouter 校验依赖并填充默认策略。
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Manager == nil {
		return nil, errors.New("router requires a generation manager")
	}
	if opts.Network == nil {
		return nil, errors.New("router requires a network")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	navigation := opts.Navigation
	if navigation == nil {
		navigation = strategy.NetworkFirst{}
	}
	asset := opts.Asset
	if asset == nil {
		asset = strategy.CacheFirst{}
	}
	fallbacks := make(map[string]string, len(opts.Fallbacks))
	for dest, doc := range opts.Fallbacks {
		fallbacks[strings.ToLower(strings.TrimSpace(dest))] = doc
	}
	return &Router{
		manager:    opts.Manager,
		network:    opts.Network,
		populator:  opts.Populator,
		logger:     logger,
		navigation: navigation,
		asset:      asset,
		fallback:   opts.FallbackDocument,
		fallbacks:  fallbacks,
	}, nil
}

// Intercept 解析一次请求并返回响应快照，是 Route 的精简形式。
func (r *Router) Intercept(ctx context.Context, req *strategy.Request) (*cache.Entry, error) {
	res, err := r.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

// Route 解析一次请求：非 GET 只走网络且不触碰存储；导航使用导航策略并以
// FallbackDocument 兜底；其余请求使用静态资源策略并按目的地兜底。
func (r *Router) Route(ctx context.Context, req *strategy.Request) (*strategy.Result, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url is required")
	}
	if !req.IsGet() {
		return strategy.NetworkOnly{}.Resolve(ctx, strategy.Env{Network: r.network}, req)
	}

	lease, err := r.manager.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire generation: %w", err)
	}

	env := strategy.Env{Network: r.network, Populator: r.populator}
	if lease != nil {
		defer lease.Release()
		env.Generation = lease
		env.Go = r.spawner(lease)
	}

	s := r.asset
	navigation := req.IsNavigation()
	if navigation {
		s = r.navigation
		env.Fallback = r.fallback
	} else {
		env.Fallback = r.fallbacks[strings.ToLower(req.Destination)]
	}

	res, err := s.Resolve(ctx, env, req)
	if err != nil {
		return nil, err
	}
	if res.Source == strategy.SourceFallback {
		action := "asset_fallback"
		if navigation {
			action = "navigation_fallback"
		}
		r.logger.WithFields(logrus.Fields{
			"action":     action,
			"generation": res.Generation,
			"url":        req.URL.String(),
			"fallback":   env.Fallback,
			"strategy":   s.Name(),
		}).Warn("network failed, serving fallback document")
	}
	return res, nil
}

// Wait 阻塞直到全部后台刷新任务结束。
func (r *Router) Wait() {
	r.background.Wait()
}

func (r *Router) spawner(lease *generation.Lease) func(func()) {
	return func(fn func()) {
		r.background.Add(1)
		lease.Go(func() {
			defer r.background.Done()
			fn()
		})
	}
}
