package app

import (
	"fmt"

	"github.com/Pinman777/PBGui-TEST/internal/analysis"
	"github.com/Pinman777/PBGui-TEST/internal/api"
	"github.com/Pinman777/PBGui-TEST/internal/backtest"
	"github.com/Pinman777/PBGui-TEST/internal/config"
	"github.com/Pinman777/PBGui-TEST/internal/exchange"
	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/marketdata"
	"github.com/Pinman777/PBGui-TEST/internal/store/sqlite"
	"github.com/Pinman777/PBGui-TEST/internal/strategy"
)

// 编译期确认 gorm 存储满足缓存管理器的依赖面。
var _ marketdata.Store = (*sqlite.Store)(nil)
var _ analysis.CorrelationStore = (*sqlite.Store)(nil)

// AppBuilder 按配置逐层装配依赖；*Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	marketStoreFn func(string) (*sqlite.Store, error)
	registryFn    func([]exchange.Spec) (*exchange.Registry, error)
	producersFn   func() *backtest.ProducerRegistry
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStoreFn: sqlite.NewStore,
		registryFn:    exchange.NewRegistry,
		producersFn:   defaultProducers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func defaultProducers() *backtest.ProducerRegistry {
	return backtest.NewProducerRegistry(
		backtest.SMACrossProducer{},
		backtest.RSIReversionProducer{},
	)
}

// Build 装配全部组件。任何一层失败都会关闭已打开的资源后返回。
func (b *AppBuilder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	store, err := b.marketStoreFn(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化行情库失败: %w", err)
	}

	registry, err := b.registryFn(exchangeSpecs(cfg))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化交易所注册表失败: %w", err)
	}
	logger.Infof("✓ 已注册交易所: %v", registry.Names())

	manager, err := marketdata.NewManager(marketdata.ManagerConfig{
		Store:             store,
		Registry:          registry,
		TickerTTL:         cfg.Cache.TickerTTLDuration(),
		RateLimitPerMin:   cfg.Cache.RateLimitPerMin,
		DefaultMarketType: cfg.Cache.DefaultMarketType,
		ExportDir:         cfg.Export.Dir,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化缓存管理器失败: %w", err)
	}

	analysisEngine := analysis.NewEngine(manager, store, nil)

	strategies, err := strategy.NewStore(cfg.Strategies.Dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化策略库失败: %w", err)
	}

	results, err := backtest.NewResultStore(cfg.Database.ResultsDir)
	if err != nil {
		strategies.Close()
		store.Close()
		return nil, fmt.Errorf("初始化回测结果库失败: %w", err)
	}

	producers := b.producersFn()
	btEngine := backtest.NewEngine(manager, producers, results, nil)
	logger.Infof("✓ 可用信号生产器: %v", producers.Names())

	server, err := api.NewServer(api.ServerConfig{
		Addr:           cfg.App.HTTPAddr,
		Manager:        manager,
		Engine:         analysisEngine,
		Strategies:     strategies,
		Backtests:      btEngine,
		Results:        results,
		ReportDir:      cfg.Backtest.ReportDir,
		InitialBalance: cfg.Backtest.InitialBalance,
	})
	if err != nil {
		results.Close()
		strategies.Close()
		store.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:        cfg,
		server:     server,
		store:      store,
		results:    results,
		strategies: strategies,
	}, nil
}

func WithMarketStore(fn func(string) (*sqlite.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.marketStoreFn = fn
		}
	}
}

func WithRegistry(fn func([]exchange.Spec) (*exchange.Registry, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.registryFn = fn
		}
	}
}

func WithProducers(fn func() *backtest.ProducerRegistry) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.producersFn = fn
		}
	}
}
