package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	recordSuffix = ".json"
	tempPrefix   = ".cache-"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
// 目录不存在时会自动创建，因此独立的清缓存操作也可以直接使用。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache directory required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一键的并发写互相覆盖到一半，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, key string) (*Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	// 状态码为零说明文件虽是合法 JSON 但内容不完整。
	if record.Status == 0 {
		return nil, fmt.Errorf("%w: missing status", ErrCorrupted)
	}

	return &record, nil
}

func (s *fileStore) Put(ctx context.Context, key string, record *Record) error {
	if record == nil {
		return errors.New("record required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.basePath, tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Clear(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if mkErr := os.MkdirAll(s.basePath, 0o755); mkErr != nil {
				return 0, mkErr
			}
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		isRecord := strings.HasSuffix(name, recordSuffix)
		if !isRecord && !strings.HasPrefix(name, tempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		if isRecord {
			removed++
		}
	}
	return removed, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key string) (string, error) {
	if key == "" {
		return "", errors.New("cache key required")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid cache key: %s", key)
	}
	return filepath.Join(s.basePath, key+recordSuffix), nil
}
