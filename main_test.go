package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caching-proxy/caching-proxy/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("CACHING_PROXY_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsOverrides(t *testing.T) {
	opts, err := parseCLIFlags([]string{
		"--upstream", "http://origin.example.com",
		"--port", "9000",
		"--cache-dir", "/tmp/cache",
	})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.overrides.Upstream != "http://origin.example.com" {
		t.Fatalf("upstream 覆盖项缺失: %s", opts.overrides.Upstream)
	}
	if opts.overrides.ListenPort != 9000 {
		t.Fatalf("port 覆盖项缺失: %d", opts.overrides.ListenPort)
	}
	if opts.overrides.CacheDir != "/tmp/cache" {
		t.Fatalf("cache-dir 覆盖项缺失: %s", opts.overrides.CacheDir)
	}
}

func TestParseCLIFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--bogus"}); err == nil {
		t.Fatalf("未知标志应返回错误")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "caching-proxy") {
		t.Fatalf("version 输出应包含 caching-proxy 标识")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	path := writeConfigFixture(t, `
Upstream = "http://origin.example.com"
NoCachePatterns = ["/realtime/*"]
`)
	code := run(cliOptions{configPath: path, checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: filepath.Join(t.TempDir(), "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunRequiresUpstream(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{checkOnly: true})
	if code == 0 {
		t.Fatalf("缺少上游地址应返回非零退出码")
	}
}

func TestRunClearCache(t *testing.T) {
	useBufferWriters(t)

	cacheDir := t.TempDir()
	for _, name := range []string{"aaa.json", "bbb.json"} {
		if err := os.WriteFile(filepath.Join(cacheDir, name), []byte(`{"status":200}`), 0o644); err != nil {
			t.Fatalf("写入缓存记录失败: %v", err)
		}
	}

	code := run(cliOptions{
		overrides:  configOverridesForClear(cacheDir),
		clearCache: true,
	})
	if code != 0 {
		t.Fatalf("清缓存应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "已清除 2 条缓存记录") {
		t.Fatalf("应报告删除条数，得到 %s", stdOutBuffer().String())
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatalf("读取缓存目录失败: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("缓存目录应被清空，剩余 %d 项", len(entries))
	}
}

func TestRunClearCacheNeedsNoUpstream(t *testing.T) {
	useBufferWriters(t)

	cacheDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(cacheDir, "aaa.json"), []byte(`{"status":200}`), 0o644); err != nil {
		t.Fatalf("写入缓存记录失败: %v", err)
	}

	// 只给缓存目录、不给上游地址，维护操作必须照常完成。
	code := run(cliOptions{
		overrides:  config.Overrides{CacheDir: cacheDir},
		clearCache: true,
	})
	if code != 0 {
		t.Fatalf("缺少上游地址不应阻止清缓存，得到退出码 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "已清除 1 条缓存记录") {
		t.Fatalf("应报告删除条数，得到 %s", stdOutBuffer().String())
	}
}

func TestRunClearCacheOnMissingDirectory(t *testing.T) {
	useBufferWriters(t)

	cacheDir := filepath.Join(t.TempDir(), "never-created")
	code := run(cliOptions{
		overrides:  configOverridesForClear(cacheDir),
		clearCache: true,
	})
	if code != 0 {
		t.Fatalf("不存在的缓存目录应按空缓存处理，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "已清除 0 条缓存记录") {
		t.Fatalf("应报告 0 条删除，得到 %s", stdOutBuffer().String())
	}
	if _, err := os.Stat(cacheDir); err != nil {
		t.Fatalf("缓存目录应被创建: %v", err)
	}
}
