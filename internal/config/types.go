package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、存储后端与超时。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`

	StoreBackend string `mapstructure:"StoreBackend"`
	EntryCodec   string `mapstructure:"EntryCodec"`
	HotCacheSize int64  `mapstructure:"HotCacheSize"`
	RedisAddr    string `mapstructure:"RedisAddr"`
	RedisDB      int    `mapstructure:"RedisDB"`
	RedisPrefix  string `mapstructure:"RedisPrefix"`

	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	InstallTimeout     Duration `mapstructure:"InstallTimeout"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
}

// ShellConfig 描述被缓存的应用外壳：源站、版本、Manifest 与路由策略。
type ShellConfig struct {
	Origin             string   `mapstructure:"Origin"`
	Version            string   `mapstructure:"Version"`
	Manifest           []string `mapstructure:"Manifest"`
	AllowedOrigins     []string `mapstructure:"AllowedOrigins"`
	FallbackDocument   string   `mapstructure:"FallbackDocument"`
	NavigationStrategy string   `mapstructure:"NavigationStrategy"`
	AssetStrategy      string   `mapstructure:"AssetStrategy"`
}

// FallbackConfig 为某一类 Sec-Fetch-Dest 请求配置网络失败时的替代文档。
type FallbackConfig struct {
	Destination string `mapstructure:"Destination"`
	Document    string `mapstructure:"Document"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Shell     ShellConfig      `mapstructure:",squash"`
	Fallbacks []FallbackConfig `mapstructure:"Fallback"`
}

// ResolveURL 将相对地址解析为基于 Origin 的绝对 URL，绝对地址原样返回。
func (c *Config) ResolveURL(ref string) (string, error) {
	base, err := url.Parse(c.Shell.Origin)
	if err != nil {
		return "", err
	}
	target, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(target).String(), nil
}

// ManifestURLs 返回解析为绝对地址后的 Manifest，顺序与配置一致。
func (c *Config) ManifestURLs() ([]string, error) {
	out := make([]string, 0, len(c.Shell.Manifest))
	for _, ref := range c.Shell.Manifest {
		resolved, err := c.ResolveURL(ref)
		if err != nil {
			return nil, fmt.Errorf("Manifest %q: %w", ref, err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

// DestinationFallbacks 返回按目的地（小写）索引的回退文档绝对地址。
func (c *Config) DestinationFallbacks() (map[string]string, error) {
	out := make(map[string]string, len(c.Fallbacks))
	for _, fb := range c.Fallbacks {
		resolved, err := c.ResolveURL(fb.Document)
		if err != nil {
			return nil, fmt.Errorf("Fallback[%s].Document: %w", fb.Destination, err)
		}
		out[strings.ToLower(strings.TrimSpace(fb.Destination))] = resolved
	}
	return out, nil
}
