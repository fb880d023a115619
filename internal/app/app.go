package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/api"
	"github.com/Pinman777/PBGui-TEST/internal/backtest"
	"github.com/Pinman777/PBGui-TEST/internal/config"
	"github.com/Pinman777/PBGui-TEST/internal/exchange"
	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/store/sqlite"
	"github.com/Pinman777/PBGui-TEST/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP API。
type App struct {
	cfg        *config.Config
	server     *api.Server
	store      *sqlite.Store
	results    *backtest.ResultStore
	strategies *strategy.Store
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg).Build()
}

// Run 启动 HTTP 服务，在 ctx 取消时优雅退出并关闭存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 关闭全部持久化资源。
func (a *App) Close() {
	if a.strategies != nil {
		if err := a.strategies.Close(); err != nil {
			logger.Warnf("关闭策略库失败: %v", err)
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("关闭回测结果库失败: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭行情库失败: %v", err)
		}
	}
}

func exchangeSpecs(cfg *config.Config) []exchange.Spec {
	enabled := cfg.EnabledExchanges()
	specs := make([]exchange.Spec, 0, len(enabled))
	for _, ex := range enabled {
		specs = append(specs, exchange.Spec{
			Name:        ex.Name,
			APIKey:      ex.APIKey,
			APISecret:   ex.APISecret,
			RESTBaseURL: ex.RESTBaseURL,
			HTTPTimeout: time.Duration(ex.HTTPTimeoutSeconds) * time.Second,
		})
	}
	return specs
}
