package cache

import (
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Key 是可缓存请求的规范标识：方法 + 绝对 URL。Vary 相关的请求头不进入存储标识，
// 而是在写入时快照到 Entry.Vary，查找时再逐项比对。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化方法与 URL：方法转大写，去掉 fragment。
func NewKey(method string, u *url.URL) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if u == nil {
		return Key{Method: method}
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return Key{Method: method, URL: clean.String()}
}

// String 返回存储层使用的标识，例如 "GET https://app.local/static/css/style.css"。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// VaryNames 解析响应的 Vary 头，返回规范化后的字段名列表。
func VaryNames(header http.Header) []string {
	var names []string
	for _, raw := range header.Values("Vary") {
		for _, part := range strings.Split(raw, ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			if name == "*" {
				return []string{"*"}
			}
			names = append(names, textproto.CanonicalMIMEHeaderKey(name))
		}
	}
	return names
}

// VarySnapshot 记录请求中 Vary 所列字段的取值；请求缺省的字段记录为空值列表。
func VarySnapshot(response, request http.Header) http.Header {
	names := VaryNames(response)
	if len(names) == 0 {
		return nil
	}
	snapshot := make(http.Header, len(names))
	for _, name := range names {
		if name == "*" {
			snapshot["*"] = []string{}
			continue
		}
		snapshot[name] = append([]string{}, request.Values(name)...)
	}
	return snapshot
}

// MatchesVary 判断当前请求头与条目写入时的 Vary 快照是否一致。Vary: * 永不匹配。
func (e *Entry) MatchesVary(request http.Header) bool {
	if e == nil {
		return false
	}
	if _, wildcard := e.Vary["*"]; wildcard {
		return false
	}
	for name, stored := range e.Vary {
		current := request.Values(name)
		if len(current) != len(stored) {
			return false
		}
		for i := range stored {
			if strings.TrimSpace(stored[i]) != strings.TrimSpace(current[i]) {
				return false
			}
		}
	}
	return true
}
