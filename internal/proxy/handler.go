package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Handler 把 Fiber 请求转换为 strategy.Request 交给 Router，并把结果写回客户端。
type Handler struct {
	router *Router
	policy originPolicy
	logger *logrus.Logger
}

var _ server.ProxyHandler = (*Handler)(nil)

// NewHandler constructs a proxy handler; origin is the base for path-form requests.
// Absolute-form requests are accepted only for the origin itself and the allowed prefixes.
func NewHandler(router *Router, origin string, allowed []string, logger *logrus.Logger) (*Handler, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	policy, err := newOriginPolicy(origin, allowed)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{router: router, policy: policy, logger: logger}, nil
}

// Handle 执行路由并输出结构化日志；网络失败且无回退时返回 502。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	target, err := h.resolveTarget(c)
	if err != nil {
		h.logResult(c.Method(), string(c.Request().RequestURI()), requestID, nil, started, err)
		if errors.Is(err, errTargetNotAllowed) {
			return h.writeError(c, fiber.StatusForbidden, "target_not_allowed")
		}
		return h.writeError(c, fiber.StatusBadRequest, "invalid_target")
	}

	req := &strategy.Request{
		Method:      c.Method(),
		URL:         target,
		Header:      fiberHeadersAsHTTP(c),
		Mode:        c.Get("Sec-Fetch-Mode"),
		Destination: c.Get("Sec-Fetch-Dest"),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := h.router.Route(ctx, req)
	if err != nil {
		h.logResult(req.Method, target.String(), requestID, nil, started, err)
		if errors.Is(err, strategy.ErrNetworkFailure) {
			return h.writeError(c, fiber.StatusBadGateway, "network_failure")
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return h.writeError(c, fiber.StatusServiceUnavailable, "generation_unavailable")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "internal_error")
	}

	h.writeResult(c, res)
	h.logResult(req.Method, target.String(), requestID, res, started, nil)
	return nil
}

func (h *Handler) writeResult(c fiber.Ctx, res *strategy.Result) {
	entry := res.Entry
	copyResponseHeaders(c, entry.Header)
	c.Set("X-Shellcache-Source", string(res.Source))
	if res.Generation != "" {
		c.Set("X-Shellcache-Generation", res.Generation)
	}
	c.Status(entry.Status)
	if c.Method() == http.MethodHead {
		return
	}
	c.Response().SetBodyRaw(entry.Body)
}

var errTargetNotAllowed = errors.New("target not allowed")

// resolveTarget 返回上游 URL：绝对形式的请求行（正向代理）只接受 Origin
// 与 AllowedOrigins 范围内的目标，其余请求拼接到 Origin 之后。
func (h *Handler) resolveTarget(c fiber.Ctx) (*url.URL, error) {
	raw := string(c.Request().RequestURI())
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if !h.policy.allows(target) {
			return nil, fmt.Errorf("%w: %s", errTargetNotAllowed, target.Host)
		}
		return target, nil
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return url.Parse(strings.TrimSuffix(h.policy.origin.String(), "/") + raw)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	method string,
	target string,
	requestID string,
	res *strategy.Result,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(method, target, requestID)
	fields["action"] = "proxy"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	fields["source"] = string(res.Source)
	fields["generation"] = res.Generation
	fields["status"] = res.Entry.Status
	fields["bytes"] = len(res.Entry.Body)
	h.logger.WithFields(fields).Info("proxy_complete")
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
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
