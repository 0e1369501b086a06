// Package rules decides whether a request path is eligible for caching.
// Exclusion patterns are glob-style (`*` matches any run of characters,
// including across path segments) and are compiled once at startup into
// anchored regular expressions, so matching at request time can never fail.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Compile 将单个 glob 模式翻译为锚定正则。字面量段逐字匹配，`*` 匹配任意
// 字符序列（可跨越路径段）。非法模式在这里立即报错，绝不延迟到请求阶段。
func Compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errors.New("模式不能为空")
	}

	var expr strings.Builder
	expr.WriteString("^")
	for i, literal := range strings.Split(pattern, "*") {
		if i > 0 {
			expr.WriteString(".*")
		}
		expr.WriteString(regexp.QuoteMeta(literal))
	}
	expr.WriteString("$")

	compiled, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("编译模式 %q 失败: %w", pattern, err)
	}
	return compiled, nil
}

type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

// Matcher 持有按配置顺序编译好的排除模式，构造完成后只读。
type Matcher struct {
	patterns []compiledPattern
}

// NewMatcher 逐个编译模式并保留配置顺序；任何一个模式非法都会整体失败。
func NewMatcher(patterns []string) (*Matcher, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for i, pattern := range patterns {
		re, err := Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("排除模式 #%d: %w", i, err)
		}
		compiled = append(compiled, compiledPattern{raw: pattern, re: re})
	}
	return &Matcher{patterns: compiled}, nil
}

// IsExcluded 按配置顺序匹配请求路径，首个命中即排除；无命中默认可缓存。
// 入参只应是路径部分，不含查询串。
func (m *Matcher) IsExcluded(path string) bool {
	for _, pattern := range m.patterns {
		if pattern.re.MatchString(path) {
			return true
		}
	}
	return false
}

// Len 返回已加载的排除模式数量，供启动日志使用。
func (m *Matcher) Len() int {
	return len(m.patterns)
}
