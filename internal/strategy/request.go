package strategy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/shellcache/internal/cache"
)

// Request 描述一次被拦截的出站请求，字段与浏览器 fetch 事件中的 Request 对应。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	// Mode 取自 Sec-Fetch-Mode，例如 navigate / cors / no-cors。
	Mode string
	// Destination 取自 Sec-Fetch-Dest，例如 document / image / script / style。
	Destination string
}

// Key 返回请求对应的 Resource Key。
func (r *Request) Key() cache.Key {
	return cache.NewKey(r.Method, r.URL)
}

// IsGet 判断是否为 GET 请求；只有 GET 请求会读写缓存。
func (r *Request) IsGet() bool {
	return strings.EqualFold(r.Method, http.MethodGet)
}

// IsNavigation 判断请求是否为顶层文档导航：优先使用 Sec-Fetch-Mode，
// 缺失时退化为 Accept 中包含 text/html 的 GET 请求。
func (r *Request) IsNavigation() bool {
	if !r.IsGet() {
		return false
	}
	if r.Mode != "" {
		return strings.EqualFold(r.Mode, "navigate")
	}
	if r.Destination != "" {
		return strings.EqualFold(r.Destination, "document")
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}

// Clone 复制请求，header/body 与原请求互不影响。
func (r *Request) Clone() *Request {
	out := *r
	if r.URL != nil {
		u := *r.URL
		out.URL = &u
	}
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}
