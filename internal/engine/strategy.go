package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Signal 策略信号
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

// Strategy 策略接口：逐根 K 线驱动，实现方自行维护指标状态。
// 策略实例只在单次评估内使用，不要求并发安全。
type Strategy interface {
	// Init 应用参数并重置内部状态
	Init(params map[string]float64) error
	// Next 接收下一根 K 线并给出信号
	Next(bar Bar) Signal
}

// Factory 策略构造函数
type Factory func() Strategy

// Registry 静态策略注册表。策略以编译期注册的实现提供，
// 不支持运行时加载用户提交的代码。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry 返回内置策略集合：sma, rsi, buyhold
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sma", func() Strategy { return &SmaCrossStrategy{} })
	r.Register("rsi", func() Strategy { return &RsiCrossStrategy{} })
	r.Register("buyhold", func() Strategy { return &BuyHoldStrategy{} })
	return r
}

// Register 注册策略
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

// Get 按名称查找策略
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, available: %s", name, strings.Join(r.available(), ", "))
	}
	return factory, nil
}

// Has 判断策略是否存在
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Available 返回所有已注册策略名，按字典序
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available()
}

func (r *Registry) available() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
