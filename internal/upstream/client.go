// Package upstream issues the single outbound request for every proxied
// inbound request. It owns header sanitization, the shared HTTP client and
// the failure taxonomy (timeout / unreachable / body too large) that the
// engine maps onto client-visible error responses.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caching-proxy/caching-proxy/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Kind 区分上游转发失败的类别，引擎据此映射 502/504。
type Kind string

const (
	// KindTimeout 表示转发超出配置的截止时间。
	KindTimeout Kind = "timeout"
	// KindUnreachable 表示连接层失败（拒绝连接、DNS 失败、连接被重置等）。
	KindUnreachable Kind = "unreachable"
	// KindTooLarge 表示上游响应体超过配置上限。
	KindTooLarge Kind = "too_large"
)

// Error 携带失败类别与底层原因，供日志与错误映射使用。
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ForwardRequest 描述一次待转发的客户端请求。Header 会在发送前做净化。
type ForwardRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte

	// X-Forwarded-* 透传所需的下游信息。
	ClientIP   string
	OriginHost string
	Proto      string
}

// Result 是一次成功转发的完整响应，正文已全部读入内存。
// 返回前已剔除 hop-by-hop 头。
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client 复用单个 http.Client 对配置的上游发起请求，单次尝试、不自动重试。
type Client struct {
	httpClient   *http.Client
	base         *url.URL
	maxBodyBytes int64
}

// NewClient 解析上游地址并构造共享客户端。上游 3xx 不做自动跟随，
// 重定向响应会原样代理给下游。
func NewClient(cfg config.Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Upstream, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream address: %w", err)
	}

	timeout := 30 * time.Second
	if cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: defaultTransport.Clone(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base:         base,
		maxBodyBytes: cfg.MaxBodyBytes,
	}, nil
}

// BaseURL 返回上游基地址字符串，供日志字段使用。
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Forward 发起一次上游请求并完整读取响应体。所有失败都以 *Error 返回，
// 调用方可按 Kind 映射用户可见的错误响应。
func (c *Client) Forward(ctx context.Context, freq ForwardRequest) (*Result, error) {
	target := c.buildTarget(freq.Path, freq.RawQuery)

	req, err := c.buildRequest(ctx, target, freq)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, URL: target, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: classify(err), URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, &Error{Kind: classify(err), URL: target, Err: err}
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, &Error{
			Kind: KindTooLarge,
			URL:  target,
			Err:  fmt.Errorf("response body exceeds %d bytes", c.maxBodyBytes),
		}
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)

	return &Result{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// buildTarget 按原样拼接路径与查询串，保留上游基地址自带的路径前缀。
func (c *Client) buildTarget(path, rawQuery string) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = rawQuery
	return u.String()
}

func (c *Client) buildRequest(ctx context.Context, target string, freq ForwardRequest) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(freq.Body) > 0 {
		body = bytes.NewReader(freq.Body)
	}

	req, err := http.NewRequestWithContext(ctx, freq.Method, target, body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, freq.Header)
	req.Header.Del("Host")
	req.Header.Del("Content-Length")
	req.Header.Del("Accept-Encoding")
	req.Host = c.base.Host

	req.Header.Set("X-Forwarded-Host", freq.OriginHost)
	if freq.ClientIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+freq.ClientIP)
		} else {
			req.Header.Set("X-Forwarded-For", freq.ClientIP)
		}
	}
	if freq.Proto != "" {
		req.Header.Set("X-Forwarded-Proto", freq.Proto)
	}

	return req, nil
}

// classify 将传输层错误归入失败类别：超时单列，其余一律视为不可达。
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
