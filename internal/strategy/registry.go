package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func newRegistry() *registry {
	return &registry{strategies: make(map[string]Strategy)}
}

// Register 将策略加入全局注册表，重复名称会返回错误。
func Register(s Strategy) error {
	return globalRegistry.register(s)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(s Strategy) {
	if err := Register(s); err != nil {
		panic(err)
	}
}

// Resolve 返回指定名称的策略，名称大小写不敏感。
func Resolve(name string) (Strategy, bool) {
	return globalRegistry.resolve(name)
}

// Names 返回所有已注册策略的名称（已排序），供配置校验与诊断使用。
func Names() []string {
	return globalRegistry.names()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *registry) register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy is required")
	}
	key := normalizeName(s.Name())
	if key == "" {
		return fmt.Errorf("strategy name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.strategies[key] = s
	return nil
}

func (r *registry) resolve(name string) (Strategy, bool) {
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[key]
	return s, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.strategies))
	for key := range r.strategies {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
