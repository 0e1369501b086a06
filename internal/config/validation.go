package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/caching-proxy/caching-proxy/internal/rules"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 排除模式在这里编译一次，保证请求阶段不会再出现模式错误。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := validateUpstream(c.Upstream); err != nil {
		return fmt.Errorf("Upstream: %w", err)
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.CacheDir == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.MaxBodyBytes <= 0 {
		return newFieldError("MaxBodyBytes", "必须大于 0")
	}

	for i, pattern := range c.NoCachePatterns {
		if _, err := rules.Compile(pattern); err != nil {
			field := fmt.Sprintf("NoCachePatterns[%d]", i)
			return newFieldError(field, err.Error())
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无法解析: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，得到 %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}
