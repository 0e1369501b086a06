package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/caching-proxy/caching-proxy/internal/cache"
	"github.com/caching-proxy/caching-proxy/internal/logging"
	"github.com/caching-proxy/caching-proxy/internal/rules"
	"github.com/caching-proxy/caching-proxy/internal/server"
	"github.com/caching-proxy/caching-proxy/internal/upstream"
)

// headerXCache 标记响应来源：命中缓存为 HIT，回源为 MISS。
// 上游转发失败的错误响应不携带该头。
const headerXCache = "X-Cache"

// Forwarder 抽象上游客户端，允许在测试中注入假的转发实现。
// *upstream.Client 是生产环境唯一的实现。
type Forwarder interface {
	Forward(ctx context.Context, freq upstream.ForwardRequest) (*upstream.Result, error)
	BaseURL() string
}

// Engine 负责 orchestrate “路径过滤 → 缓存查找 → 回源写缓存” 的全流程，
// 对外暴露 Fiber handler，内部复用共享上游客户端与磁盘缓存。
type Engine struct {
	client  Forwarder
	logger  *logrus.Logger
	store   cache.Store
	matcher *rules.Matcher
}

// NewEngine constructs the proxy engine with shared client/logger/store/matcher.
func NewEngine(client Forwarder, logger *logrus.Logger, store cache.Store, matcher *rules.Matcher) *Engine {
	return &Engine{
		client:  client,
		logger:  logger,
		store:   store,
		matcher: matcher,
	}
}

// Handle 执行每个请求的状态机：仅 GET 且未被排除的路径才参与缓存，
// 其余请求一律直接回源。存储层的任何失败都被吸收为未命中或告警日志，
// 绝不影响响应本身。
func (e *Engine) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	reqPath := normalizeRequestPath(string(c.Request().URI().Path()))
	rawQuery := string(c.Request().URI().QueryString())

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cacheable := method == http.MethodGet && !e.matcher.IsExcluded(reqPath)

	var key string
	if cacheable {
		key = cache.Key(method, reqPath, rawQuery)
		record, err := e.store.Get(ctx, key)
		switch {
		case err == nil:
			return e.serveRecord(c, record, method, reqPath, requestID, started)
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		case errors.Is(err, cache.ErrCorrupted):
			e.logger.WithError(err).
				WithFields(logrus.Fields{"method": method, "path": reqPath, "key": key}).
				Warn("cache_corrupted")
		default:
			e.logger.WithError(err).
				WithFields(logrus.Fields{"method": method, "path": reqPath, "key": key}).
				Warn("cache_get_failed")
		}
	}

	return e.fetchAndServe(c, ctx, method, reqPath, rawQuery, key, cacheable, requestID, started)
}

// Clear 清空缓存目录并返回删除条数，是独立于单请求流程的管理入口。
func (e *Engine) Clear(ctx context.Context) (int, error) {
	return e.store.Clear(ctx)
}

func (e *Engine) serveRecord(
	c fiber.Ctx,
	record *cache.Record,
	method string,
	reqPath string,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, record.Header)
	c.Response().Header.SetContentLength(len(record.Body))
	c.Set(headerXCache, "HIT")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(record.Status)

	_, err := c.Response().BodyWriter().Write(record.Body)
	e.logResult(method, reqPath, requestID, record.Status, true, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("write cached body failed: %v", err))
	}
	return nil
}

func (e *Engine) fetchAndServe(
	c fiber.Ctx,
	ctx context.Context,
	method string,
	reqPath string,
	rawQuery string,
	key string,
	cacheable bool,
	requestID string,
	started time.Time,
) error {
	freq := upstream.ForwardRequest{
		Method:     method,
		Path:       reqPath,
		RawQuery:   rawQuery,
		Header:     fiberHeadersAsHTTP(c),
		Body:       append([]byte(nil), c.Body()...),
		ClientIP:   c.IP(),
		OriginHost: c.Hostname(),
		Proto:      c.Protocol(),
	}

	result, err := e.client.Forward(ctx, freq)
	if err != nil {
		return e.serveFailure(c, err, method, reqPath, requestID, started)
	}

	if cacheable && isCacheableStatus(result.Status) {
		record := &cache.Record{
			Status: result.Status,
			Header: storableHeaders(result.Header),
			Body:   result.Body,
		}
		if putErr := e.store.Put(ctx, key, record); putErr != nil {
			// 写缓存失败只降级为告警，响应照常返回。
			e.logger.WithError(putErr).
				WithFields(logrus.Fields{"method": method, "path": reqPath, "key": key}).
				Warn("cache_write_failed")
		}
	}

	copyResponseHeaders(c, result.Header)
	c.Response().Header.SetContentLength(len(result.Body))
	c.Set(headerXCache, "MISS")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(result.Status)

	_, writeErr := c.Response().BodyWriter().Write(result.Body)
	e.logResult(method, reqPath, requestID, result.Status, false, started, writeErr)
	if writeErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", writeErr))
	}
	return nil
}

// serveFailure 将上游失败类别映射为用户可见的错误响应；错误响应不带 X-Cache。
func (e *Engine) serveFailure(
	c fiber.Ctx,
	err error,
	method string,
	reqPath string,
	requestID string,
	started time.Time,
) error {
	status := fiber.StatusBadGateway
	message := fmt.Sprintf("Bad Gateway: error forwarding request: %v", err)

	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		switch upErr.Kind {
		case upstream.KindTimeout:
			status = fiber.StatusGatewayTimeout
			message = "Gateway Timeout: the upstream did not respond within the configured deadline"
		case upstream.KindTooLarge:
			status = fiber.StatusBadGateway
			message = "Bad Gateway: the upstream response exceeded the configured size limit"
		}
	}

	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	fields := logging.RequestFields(method, reqPath, false)
	fields["action"] = "proxy"
	fields["upstream"] = e.client.BaseURL()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if upErr != nil {
		fields["kind"] = string(upErr.Kind)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	fields["error"] = err.Error()
	e.logger.WithFields(fields).Error("proxy_failed")

	return c.Status(status).SendString(message)
}

func (e *Engine) logResult(
	method string,
	reqPath string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(method, reqPath, cacheHit)
	fields["action"] = "proxy"
	fields["upstream"] = e.client.BaseURL()
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		e.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	e.logger.WithFields(fields).Info("proxy_complete")
}

// isCacheableStatus 判断可缓存状态区间 [200, 400)。
func isCacheableStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusBadRequest
}

// storableHeaders 克隆响应头并剔除不应落盘的敏感字段。
// hop-by-hop 头在 upstream 层已经去除。
func storableHeaders(header http.Header) http.Header {
	stored := http.Header{}
	for key, values := range header {
		if http.CanonicalHeaderKey(key) == "Set-Cookie" {
			continue
		}
		for _, value := range values {
			stored.Add(key, value)
		}
	}
	return stored
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if upstream.IsHopByHopHeader(key) {
			continue
		}
		if http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
