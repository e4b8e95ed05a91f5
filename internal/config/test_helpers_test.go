package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// shellKeys 是一份最小可用的外壳配置，供只关心全局字段的用例拼接。
const shellKeys = `
Origin = "https://app.local"
Version = "v1"
Manifest = ["/"]
`

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把 content 写入临时 TOML 文件，withShell 为 true 时追加 shellKeys。
func writeTempConfig(t *testing.T, content string, withShell bool) string {
	t.Helper()
	if withShell {
		content = strings.TrimSpace(content) + "\n" + shellKeys
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			StoragePath:        "./data",
			StoreBackend:       "fs",
			EntryCodec:         "msgpack",
			UpstreamTimeout:    Duration(time.Second),
			InstallTimeout:     Duration(time.Minute),
			InstallConcurrency: 2,
		},
		Shell: ShellConfig{
			Origin:             "https://app.local",
			Version:            "v1",
			Manifest:           []string{"/", "/app.css"},
			FallbackDocument:   "/",
			NavigationStrategy: "network-first",
			AssetStrategy:      "cache-first",
		},
	}
}
