package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// originPolicy 描述哪些目标属于本服务：与 Origin 同源（scheme+host）
// 或以 AllowedOrigins 中任一前缀开头。
type originPolicy struct {
	origin   *url.URL
	prefixes []string
}

func newOriginPolicy(origin string, allowed []string) (originPolicy, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return originPolicy{}, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return originPolicy{}, fmt.Errorf("origin must be absolute: %s", origin)
	}
	prefixes := make([]string, 0, len(allowed))
	for _, prefix := range allowed {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}
	return originPolicy{origin: parsed, prefixes: prefixes}, nil
}

func (p originPolicy) sameOrigin(target *url.URL) bool {
	return strings.EqualFold(target.Scheme, p.origin.Scheme) && strings.EqualFold(target.Host, p.origin.Host)
}

func (p originPolicy) allows(target *url.URL) bool {
	if target == nil {
		return false
	}
	if p.sameOrigin(target) {
		return true
	}
	raw := target.String()
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(raw, prefix) {
			return true
		}
	}
	return false
}
