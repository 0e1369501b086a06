package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/caching-proxy/caching-proxy/internal/config"
)

// useBufferWriters swaps stdOut/stdErr with in-memory buffers for the duration
// of a test, allowing assertions on CLI output without polluting test logs.
func useBufferWriters(t *testing.T) {
	t.Helper()

	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}

	prevOut := stdOut
	prevErr := stdErr

	stdOut = outBuf
	stdErr = errBuf

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
}

// stdOutBuffer returns the in-use stdout buffer when useBufferWriters is active.
func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

// configOverridesForClear 构造 clear-cache 场景所需的最小覆盖项。
// 清缓存是独立的维护操作，故意不提供上游地址。
func configOverridesForClear(cacheDir string) config.Overrides {
	return config.Overrides{
		CacheDir: cacheDir,
	}
}

// writeConfigFixture 在临时目录写一个最小可用的配置文件并返回其路径。
func writeConfigFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置夹具失败: %v", err)
	}
	return path
}
