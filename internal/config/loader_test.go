package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadParsesTOMLFile(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://origin.example.com"
ListenPort = 9000
CacheDir = "./proxy-cache"
NoCachePatterns = ["/realtime/*", "/api/status"]
UpstreamTimeout = "5s"
`)

	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Upstream != "http://origin.example.com" {
		t.Fatalf("upstream mismatch: %s", cfg.Upstream)
	}
	if cfg.ListenPort != 9000 {
		t.Fatalf("port mismatch: %d", cfg.ListenPort)
	}
	if !filepath.IsAbs(cfg.CacheDir) || !strings.HasSuffix(cfg.CacheDir, "proxy-cache") {
		t.Fatalf("cache dir should be absolute, got %s", cfg.CacheDir)
	}
	if len(cfg.NoCachePatterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(cfg.NoCachePatterns))
	}
	if cfg.UpstreamTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("timeout mismatch: %v", cfg.UpstreamTimeout.DurationValue())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("", Overrides{Upstream: "http://origin.example.com"})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.ListenPort != 8000 {
		t.Fatalf("default port should be 8000, got %d", cfg.ListenPort)
	}
	if !strings.HasSuffix(cfg.CacheDir, ".cache") {
		t.Fatalf("default cache dir should be .cache, got %s", cfg.CacheDir)
	}
	if cfg.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("default timeout should be 30s, got %v", cfg.UpstreamTimeout.DurationValue())
	}
	if cfg.MaxBodyBytes != 64*1024*1024 {
		t.Fatalf("default body limit mismatch: %d", cfg.MaxBodyBytes)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("default log level should be info, got %s", cfg.LogLevel)
	}
}

func TestOverridesBeatConfigFile(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://file.example.com"
ListenPort = 9000
`)

	cfg, err := Load(path, Overrides{
		Upstream:   "http://flag.example.com",
		ListenPort: 9100,
		CacheDir:   "./flag-cache",
	})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Upstream != "http://flag.example.com" {
		t.Fatalf("flag upstream should win, got %s", cfg.Upstream)
	}
	if cfg.ListenPort != 9100 {
		t.Fatalf("flag port should win, got %d", cfg.ListenPort)
	}
	if !strings.HasSuffix(cfg.CacheDir, "flag-cache") {
		t.Fatalf("flag cache dir should win, got %s", cfg.CacheDir)
	}
}

func TestLoadRequiresUpstream(t *testing.T) {
	if _, err := Load("", Overrides{}); err == nil {
		t.Fatalf("缺少上游地址的配置应返回错误")
	}
}

func TestLoadRejectsInvalidUpstream(t *testing.T) {
	cases := []string{"ftp://example.com", "://broken", "http://"}
	for _, raw := range cases {
		if _, err := Load("", Overrides{Upstream: raw}); err == nil {
			t.Fatalf("非法上游 %q 应失败", raw)
		}
	}
}

func TestLoadRejectsInvalidPattern(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://origin.example.com"
NoCachePatterns = ["/ok/*", "  "]
`)
	if _, err := Load(path, Overrides{}); err == nil {
		t.Fatalf("非法排除模式应失败")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://origin.example.com"
ListenPort = 70000
`)
	if _, err := Load(path, Overrides{}); err == nil {
		t.Fatalf("非法端口应失败")
	}
}

func TestLoadAcceptsBareSecondDurations(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://origin.example.com"
UpstreamTimeout = 45
`)
	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("bare integers should mean seconds, got %v", cfg.UpstreamTimeout.DurationValue())
	}
}

func TestLoadForMaintenanceNeedsNoUpstream(t *testing.T) {
	cfg, err := LoadForMaintenance("", Overrides{CacheDir: "./maint-cache"})
	if err != nil {
		t.Fatalf("维护模式加载不应要求上游地址: %v", err)
	}
	if !filepath.IsAbs(cfg.CacheDir) || !strings.HasSuffix(cfg.CacheDir, "maint-cache") {
		t.Fatalf("cache dir should be resolved, got %s", cfg.CacheDir)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("maintenance load should keep logging defaults, got %s", cfg.LogLevel)
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), Overrides{}); err == nil {
		t.Fatalf("缺失的配置文件应返回错误")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
