package generation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Lease 是对激活 Generation 的读写租约。持有期间该分区不会被删除；
// 每个 Lease 必须且只需 Release 一次。
type Lease struct {
	store cache.Store
	gen   *generation
	once  sync.Once
}

var _ strategy.Generation = (*Lease)(nil)

// Name 返回租约对应的版本号。
func (l *Lease) Name() string {
	return l.gen.name
}

// Match 按 Resource Key 查找条目，并校验写入时的 Vary 快照。
func (l *Lease) Match(ctx context.Context, req *strategy.Request) (*cache.Entry, error) {
	entry, err := l.store.Get(ctx, l.gen.name, req.Key().String())
	if err != nil {
		return nil, err
	}
	if !entry.MatchesVary(req.Header) {
		return nil, cache.ErrNotFound
	}
	return entry, nil
}

// MatchURL 以 GET 查找 rawURL，忽略 Vary。
func (l *Lease) MatchURL(ctx context.Context, rawURL string) (*cache.Entry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	return l.store.Get(ctx, l.gen.name, cache.NewKey(http.MethodGet, u).String())
}

// Put 写入条目，同一 Key 后写覆盖先写。
func (l *Lease) Put(ctx context.Context, entry cache.Entry) error {
	return l.store.Put(ctx, l.gen.name, entry)
}

// Go 在后台执行 fn，并在 fn 返回前阻止该分区被激活流程删除。
// 必须在 Release 之前调用。
func (l *Lease) Go(fn func()) {
	l.gen.inflight.Add(1)
	go func() {
		defer l.gen.inflight.Done()
		fn()
	}()
}

// Release 结束租约，重复调用无副作用。
func (l *Lease) Release() {
	l.once.Do(func() {
		l.gen.leases.Add(-1)
		l.gen.inflight.Done()
	})
}
