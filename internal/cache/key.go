package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key 由 (method, path, query) 派生确定性的缓存键。sha256 十六进制表示
// 不含任何路径分隔符，可直接作为文件名使用。
func Key(method, path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target = path + "?" + rawQuery
	}
	sum := sha256.Sum256([]byte(method + " " + target))
	return hex.EncodeToString(sum[:])
}
