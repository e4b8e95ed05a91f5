package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
)

var supportedBackends = map[string]struct{}{
	cache.BackendFS:      {},
	cache.BackendLevelDB: {},
	cache.BackendSQLite:  {},
	cache.BackendRedis:   {},
	cache.BackendMemory:  {},
}

const supportedBackendList = "fs|leveldb|sqlite|redis|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if err := c.validateGlobal(); err != nil {
		return err
	}
	return c.validateShell()
}

func (c *Config) validateGlobal() error {
	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" && g.StoreBackend != cache.BackendMemory && g.StoreBackend != cache.BackendRedis {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[g.StoreBackend]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 "+supportedBackendList)
	}
	if g.EntryCodec != cache.CodecMsgpack && g.EntryCodec != cache.CodecCBOR {
		return newFieldError("Global.EntryCodec", "仅支持 msgpack|cbor")
	}
	if g.HotCacheSize < 0 {
		return newFieldError("Global.HotCacheSize", "不能为负数")
	}
	if g.StoreBackend == cache.BackendRedis && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "redis 后端必须配置地址")
	}
	if g.RedisDB < 0 {
		return newFieldError("Global.RedisDB", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.InstallTimeout.DurationValue() <= 0 {
		return newFieldError("Global.InstallTimeout", "必须大于 0")
	}
	if g.InstallConcurrency <= 0 {
		return newFieldError("Global.InstallConcurrency", "必须大于 0")
	}
	return nil
}

func (c *Config) validateShell() error {
	s := c.Shell
	if err := validateOrigin(s.Origin); err != nil {
		return fmt.Errorf("Shell.Origin: %w", err)
	}
	if s.Version == "" {
		return newFieldError("Shell.Version", "不能为空")
	}
	if err := cache.ValidatePartitionName(s.Version); err != nil {
		return newFieldError("Shell.Version", err.Error())
	}
	if len(s.Manifest) == 0 {
		return newFieldError("Shell.Manifest", "至少需要一个条目")
	}
	for _, ref := range s.Manifest {
		if strings.TrimSpace(ref) == "" {
			return newFieldError("Shell.Manifest", "不允许空条目")
		}
		if err := c.validateRef(ref); err != nil {
			return fmt.Errorf("Shell.Manifest %q: %w", ref, err)
		}
	}
	for _, prefix := range s.AllowedOrigins {
		if err := validateOrigin(prefix); err != nil {
			return fmt.Errorf("Shell.AllowedOrigins %q: %w", prefix, err)
		}
	}
	if err := c.validateRef(s.FallbackDocument); err != nil {
		return fmt.Errorf("Shell.FallbackDocument: %w", err)
	}
	if _, ok := strategy.Resolve(s.NavigationStrategy); !ok {
		return newFieldError("Shell.NavigationStrategy", "仅支持 "+strings.Join(strategy.Names(), "|"))
	}
	if _, ok := strategy.Resolve(s.AssetStrategy); !ok {
		return newFieldError("Shell.AssetStrategy", "仅支持 "+strings.Join(strategy.Names(), "|"))
	}

	seen := map[string]struct{}{}
	for _, fb := range c.Fallbacks {
		dest := strings.ToLower(strings.TrimSpace(fb.Destination))
		if dest == "" {
			return newFieldError(fallbackField("", "Destination"), "不能为空")
		}
		if _, exists := seen[dest]; exists {
			return newFieldError(fallbackField(dest, "Destination"), "重复")
		}
		seen[dest] = struct{}{}
		if strings.TrimSpace(fb.Document) == "" {
			return newFieldError(fallbackField(dest, "Document"), "不能为空")
		}
		if err := c.validateRef(fb.Document); err != nil {
			return fmt.Errorf("%s: %w", fallbackField(dest, "Document"), err)
		}
	}
	return nil
}

func (c *Config) validateRef(ref string) error {
	resolved, err := c.ResolveURL(ref)
	if err != nil {
		return err
	}
	return validateOrigin(resolved)
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
