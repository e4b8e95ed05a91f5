package proxy

import (
	"context"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Populator 把成功的网络响应机会性地写入激活分区。只有同源请求以及
// 命中 AllowedOrigins 前缀的请求会被写入。
type Populator struct {
	policy originPolicy
	logger *logrus.Logger
}

var _ strategy.Populator = (*Populator)(nil)

// NewPopulator 解析自身源站并记录允许缓存的动态源前缀。
func NewPopulator(origin string, allowed []string, logger *logrus.Logger) (*Populator, error) {
	policy, err := newOriginPolicy(origin, allowed)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Populator{policy: policy, logger: logger}, nil
}

// Allowed 判断目标 URL 是否允许写入缓存。
func (p *Populator) Allowed(target *url.URL) bool {
	return p.policy.allows(target)
}

// Populate 写入失败只记录日志，不影响返回给调用方的响应。
func (p *Populator) Populate(ctx context.Context, gen strategy.Generation, req *strategy.Request, resp *cache.Entry) {
	if gen == nil || req == nil || !req.IsGet() || !resp.OK() || !p.Allowed(req.URL) {
		return
	}
	vary := cache.VarySnapshot(resp.Header, req.Header)
	if _, wildcard := vary["*"]; wildcard {
		return
	}

	entry := resp.Clone()
	entry.Key = req.Key().String()
	entry.Vary = vary
	entry.StoredAt = time.Now().UTC()
	if err := gen.Put(ctx, *entry); err != nil {
		p.logger.WithFields(logrus.Fields{
			"action":     "cache_write_failed",
			"generation": gen.Name(),
			"url":        req.URL.String(),
		}).WithError(err).Warn("cache write failed")
	}
}
