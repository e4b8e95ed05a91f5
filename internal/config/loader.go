package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyShellDefaults(&cfg.Shell)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", cache.BackendFS)
	v.SetDefault("EntryCodec", cache.CodecMsgpack)
	v.SetDefault("HotCacheSize", 0)
	v.SetDefault("RedisPrefix", "shellcache:")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("InstallTimeout", "2m")
	v.SetDefault("InstallConcurrency", 4)
	v.SetDefault("FallbackDocument", "/")
	v.SetDefault("NavigationStrategy", strategy.NameNetworkFirst)
	v.SetDefault("AssetStrategy", strategy.NameCacheFirst)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.StoreBackend == "" {
		g.StoreBackend = cache.BackendFS
	}
	g.EntryCodec = strings.ToLower(strings.TrimSpace(g.EntryCodec))
	if g.EntryCodec == "" {
		g.EntryCodec = cache.CodecMsgpack
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.InstallTimeout.DurationValue() == 0 {
		g.InstallTimeout = Duration(2 * time.Minute)
	}
	if g.InstallConcurrency == 0 {
		g.InstallConcurrency = 4
	}
}

func applyShellDefaults(s *ShellConfig) {
	s.Origin = strings.TrimSpace(s.Origin)
	s.Version = strings.TrimSpace(s.Version)
	if strings.TrimSpace(s.FallbackDocument) == "" {
		s.FallbackDocument = "/"
	}
	s.NavigationStrategy = strings.ToLower(strings.TrimSpace(s.NavigationStrategy))
	if s.NavigationStrategy == "" {
		s.NavigationStrategy = strategy.NameNetworkFirst
	}
	s.AssetStrategy = strings.ToLower(strings.TrimSpace(s.AssetStrategy))
	if s.AssetStrategy == "" {
		s.AssetStrategy = strategy.NameCacheFirst
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
