package backtest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Pinman777/PBGui-TEST/internal/market"
)

// Signal 是生产器在一个评估步输出的交易意图。
type Signal struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // buy / sell
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	Timeframe string  `json:"timeframe,omitempty"`
	EmittedAt int64   `json:"emittedAt"`
}

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ProduceResult 是一次生产器调用的输出。
type ProduceResult struct {
	Signals []Signal
	Logs    []string
}

// SignalProducer 检查市场窗口并产出信号。窗口键形如
// "{exchange}_{symbol}_{timeframe}"，K 线按时间升序。实现必须无副作用，
// 同样输入给出同样输出，回测才可复现。
type SignalProducer interface {
	Name() string
	Produce(windows map[string][]market.Candle, params map[string]any) (ProduceResult, error)
}

// WindowKey 拼接市场窗口键。
func WindowKey(exchange, symbol, timeframe string) string {
	return fmt.Sprintf("%s_%s_%s", exchange, symbol, timeframe)
}

// ProducerRegistry 按名称管理可用的信号生产器。
type ProducerRegistry struct {
	mu        sync.RWMutex
	producers map[string]SignalProducer
}

func NewProducerRegistry(producers ...SignalProducer) *ProducerRegistry {
	r := &ProducerRegistry{producers: make(map[string]SignalProducer)}
	for _, p := range producers {
		r.Register(p)
	}
	return r
}

func (r *ProducerRegistry) Register(p SignalProducer) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.producers[p.Name()] = p
	r.mu.Unlock()
}

func (r *ProducerRegistry) Get(name string) (SignalProducer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[name]
	if !ok {
		return nil, &market.ValidationError{Field: "producer", Reason: fmt.Sprintf("未注册的生产器 %s", name)}
	}
	return p, nil
}

func (r *ProducerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.producers))
	for name := range r.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
