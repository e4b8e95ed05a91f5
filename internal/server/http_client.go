package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/strategy"
	"github.com/any-hub/shellcache/internal/version"
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

// NewUpstreamClient 返回共享 http.Client，用于所有上游请求。
// 重定向不自动跟随，3xx 原样交给策略层与浏览器处理。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// HTTPNetwork 基于 http.Client 实现 strategy.Network，响应体会被完整读入内存。
type HTTPNetwork struct {
	Client *http.Client
}

// NewHTTPNetwork 包装共享 client，client 为 nil 时使用默认配置。
func NewHTTPNetwork(client *http.Client) *HTTPNetwork {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	return &HTTPNetwork{Client: client}
}

// Fetch 发送请求并返回响应快照；连接、超时或读取失败都包装为 strategy.ErrNetworkFailure。
func (n *HTTPNetwork) Fetch(ctx context.Context, req *strategy.Request) (*cache.Entry, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("%w: request url is required", strategy.ErrNetworkFailure)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", strategy.ErrNetworkFailure, err)
	}
	CopyHeaders(upstreamReq.Header, req.Header)
	upstreamReq.Header.Del("Host")
	if upstreamReq.Header.Get("User-Agent") == "" {
		upstreamReq.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := n.Client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", strategy.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", strategy.ErrNetworkFailure, err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	return &cache.Entry{
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
	}, nil
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := hopByHopHeaders[canonical]; ok {
		return true
	}

	return false
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	return isHopByHopHeader(key)
}
