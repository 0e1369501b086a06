package cache

import (
	"context"
	"errors"
	"net/http"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<key>.json    # JSON 编码的完整响应记录
//
// 每个缓存键对应一个记录文件，键本身已经是文件系统安全的哈希。
type Store interface {
	// Get 返回缓存记录。不存在时返回 ErrNotFound；文件损坏或被截断时
	// 返回 ErrCorrupted，调用方应视同未命中，绝不让请求路径崩溃。
	Get(ctx context.Context, key string) (*Record, error)

	// Put 覆盖写入指定键的记录。实现需通过临时文件 + rename 保证写入
	// 原子性，并在失败时清理临时文件；并发写同一键时后写者胜出。
	Put(ctx context.Context, key string, record *Record) error

	// Clear 删除全部缓存记录并返回删除条数，目录为空时也应成功。
	Clear(ctx context.Context) (int, error)
}

// Record 表示一条持久化的响应记录。Header 采用 http.Header 的无序语义，
// 序列化往返只保证 “同名头的值列表相等”，不保证头名称顺序。
type Record struct {
	Status int         `json:"status"`
	Header http.Header `json:"headers"`
	Body   []byte      `json:"body"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrCorrupted 表示记录文件无法解码（截断、损坏或状态缺失）。
var ErrCorrupted = errors.New("cache entry corrupted")
