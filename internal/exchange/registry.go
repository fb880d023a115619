package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Spec 描述一个需要注册的交易所实例。
type Spec struct {
	Name        string
	APIKey      string
	APISecret   string
	RESTBaseURL string
	HTTPTimeout time.Duration
}

// Registry 持有交易所名到适配器的只读映射。refresh 时整体替换而非原地修改，
// 保证在途读取要么看到旧表、要么看到新表。
type Registry struct {
	adapters atomic.Pointer[map[string]Adapter]
}

// NewRegistry 根据 specs 构建注册表。
func NewRegistry(specs []Spec) (*Registry, error) {
	r := &Registry{}
	if err := r.Refresh(specs); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh 重建映射并原子替换（例如凭据变更后）。
func (r *Registry) Refresh(specs []Spec) error {
	next := make(map[string]Adapter, len(specs))
	for _, spec := range specs {
		name := strings.ToLower(strings.TrimSpace(spec.Name))
		if name == "" {
			continue
		}
		adapter, err := buildAdapter(name, spec)
		if err != nil {
			return err
		}
		next[name] = adapter
	}
	if len(next) == 0 {
		return fmt.Errorf("registry: 至少需要一个交易所")
	}
	r.adapters.Store(&next)
	return nil
}

func buildAdapter(name string, spec Spec) (Adapter, error) {
	switch name {
	case "binance":
		return NewBinance(BinanceConfig{
			APIKey:      spec.APIKey,
			APISecret:   spec.APISecret,
			RESTBaseURL: spec.RESTBaseURL,
			HTTPTimeout: spec.HTTPTimeout,
		}), nil
	case "okx":
		return NewOKX(spec.RESTBaseURL, spec.HTTPTimeout), nil
	default:
		return nil, fmt.Errorf("registry: 不支持的交易所 %s", name)
	}
}

// Get 返回指定交易所的适配器。
func (r *Registry) Get(name string) (Adapter, bool) {
	m := r.adapters.Load()
	if m == nil {
		return nil, false
	}
	a, ok := (*m)[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Names 返回已注册的交易所名（排序后）。
func (r *Registry) Names() []string {
	m := r.adapters.Load()
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(*m))
	for name := range *m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace 直接注入适配器映射，测试用。
func (r *Registry) Replace(adapters map[string]Adapter) {
	next := make(map[string]Adapter, len(adapters))
	for name, a := range adapters {
		next[strings.ToLower(name)] = a
	}
	r.adapters.Store(&next)
}
