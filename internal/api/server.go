package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/analysis"
	"github.com/Pinman777/PBGui-TEST/internal/backtest"
	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/market"
	"github.com/Pinman777/PBGui-TEST/internal/marketdata"
	"github.com/Pinman777/PBGui-TEST/internal/strategy"

	"github.com/gin-gonic/gin"
)

// Server 提供 JSON API：行情读取、批量刷新、同步分析、套利扫描、
// 策略管理与回测运行。
type Server struct {
	addr       string
	manager    *marketdata.Manager
	engine     *analysis.Engine
	strategies *strategy.Store
	backtests  *backtest.Engine
	results    *backtest.ResultStore
	reportDir  string
	balance    float64
	router     *gin.Engine
}

type ServerConfig struct {
	Addr           string
	Manager        *marketdata.Manager
	Engine         *analysis.Engine
	Strategies     *strategy.Store
	Backtests      *backtest.Engine
	Results        *backtest.ResultStore
	ReportDir      string
	InitialBalance float64
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("manager 不能为空")
	}
	if cfg.Strategies == nil {
		return nil, errors.New("strategy store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:       cfg.Addr,
		manager:    cfg.Manager,
		engine:     cfg.Engine,
		strategies: cfg.Strategies,
		backtests:  cfg.Backtests,
		results:    cfg.Results,
		reportDir:  cfg.ReportDir,
		balance:    cfg.InitialBalance,
		router:     router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	mkt := api.Group("/market")
	mkt.GET("/exchanges", s.handleExchanges)
	mkt.GET("/ticker", s.handleTicker)
	mkt.GET("/candles", s.handleCandles)
	mkt.GET("/overview", s.handleOverview)
	mkt.GET("/symbols", s.handleSymbols)
	mkt.POST("/update", s.handleUpdate)
	mkt.POST("/export", s.handleExport)

	api.POST("/sync", s.handleSync)
	api.GET("/arbitrage", s.handleArbitrage)

	st := api.Group("/strategies")
	st.GET("", s.handleStrategyList)
	st.POST("", s.handleStrategyCreate)
	st.POST("/import", s.handleStrategyImport)
	st.GET("/:id", s.handleStrategyGet)
	st.PUT("/:id", s.handleStrategySave)
	st.DELETE("/:id", s.handleStrategyDelete)
	st.GET("/:id/export", s.handleStrategyExport)

	bt := api.Group("/backtests")
	bt.POST("", s.handleBacktestRun)
	bt.GET("", s.handleBacktestList)
	bt.GET("/:id", s.handleBacktestGet)
	bt.DELETE("/:id", s.handleBacktestDelete)
	bt.POST("/:id/report", s.handleBacktestReport)
}

// Run 启动 HTTP 服务并在 ctx 取消时优雅退出。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler 暴露路由，测试用。
func (s *Server) Handler() http.Handler { return s.router }

// writeErr 把领域错误映射为 HTTP 状态码。
func writeErr(c *gin.Context, err error) {
	switch {
	case market.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, market.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case market.IsAdapterError(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleExchanges(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exchanges": s.manager.Exchanges()})
}

func (s *Server) handleTicker(c *gin.Context) {
	exchange := c.Query("exchange")
	symbol := c.Query("symbol")
	if exchange == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange/symbol 必填"})
		return
	}
	force := c.Query("force") == "true"
	t, err := s.manager.GetTicker(c.Request.Context(), exchange, symbol, force)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": t})
}

func (s *Server) handleCandles(c *gin.Context) {
	exchange := c.Query("exchange")
	symbol := c.Query("symbol")
	timeframe := c.DefaultQuery("timeframe", "1h")
	if exchange == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange/symbol 必填"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	force := c.Query("force") == "true"
	candles, err := s.manager.GetCandles(c.Request.Context(), exchange, symbol, timeframe, limit, since, force)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": candles})
}

func (s *Server) handleOverview(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	timeframe := c.DefaultQuery("timeframe", "1d")
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	overview, err := s.manager.SymbolOverview(c.Request.Context(), symbol, timeframe, days)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overview": overview})
}

func (s *Server) handleSymbols(c *gin.Context) {
	exchange := c.Query("exchange")
	if exchange == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange 必填"})
		return
	}
	marketType := c.DefaultQuery("market_type", s.manager.MarketType())
	metas, err := s.manager.RefreshSymbols(c.Request.Context(), exchange, marketType)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": metas})
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req struct {
		Exchanges  []string `json:"exchanges"`
		Symbols    []string `json:"symbols" binding:"required"`
		Timeframes []string `json:"timeframes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.manager.UpdateMarketData(c.Request.Context(), req.Exchanges, req.Symbols, req.Timeframes)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) handleExport(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange" binding:"required"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		Days      int    `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	path, err := s.manager.ExportCSV(c.Request.Context(), req.Exchange, req.Symbol, req.Timeframe, req.Days)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) handleSync(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "分析引擎未启用"})
		return
	}
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe"`
		Limit     int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = "1h"
	}
	report, err := s.engine.Synchronize(c.Request.Context(), req.Symbol, req.Timeframe, req.Limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) handleArbitrage(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "分析引擎未启用"})
		return
	}
	minDiff, _ := strconv.ParseFloat(c.DefaultQuery("min_diff", "0.5"), 64)
	quote := c.DefaultQuery("quote", "USDT")
	opps, err := s.engine.FindArbitrage(c.Request.Context(), minDiff, quote)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opps})
}

func (s *Server) handleStrategyList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.strategies.List()})
}

func (s *Server) handleStrategyCreate(c *gin.Context) {
	var req strategy.Strategy
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Normalize(); err != nil {
		writeErr(c, err)
		return
	}
	if err := s.strategies.Save(req); err != nil {
		writeErr(c, err)
		return
	}
	saved, err := s.strategies.Get(req.ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": saved})
}

func (s *Server) handleStrategyImport(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := s.strategies.ImportYAML(raw)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": st})
}

func (s *Server) handleStrategyGet(c *gin.Context) {
	st, err := s.strategies.Get(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": st})
}

func (s *Server) handleStrategySave(c *gin.Context) {
	var req strategy.Strategy
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ID = c.Param("id")
	if _, err := s.strategies.Get(req.ID); err != nil {
		writeErr(c, err)
		return
	}
	if err := s.strategies.Save(req); err != nil {
		writeErr(c, err)
		return
	}
	saved, err := s.strategies.Get(req.ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": saved})
}

func (s *Server) handleStrategyDelete(c *gin.Context) {
	if err := s.strategies.Delete(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleStrategyExport(c *gin.Context) {
	raw, err := s.strategies.ExportJSON(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleBacktestRun(c *gin.Context) {
	if s.backtests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测引擎未启用"})
		return
	}
	var req struct {
		StrategyID     string         `json:"strategy_id" binding:"required"`
		StartTs        int64          `json:"start_ts" binding:"required"`
		EndTs          int64          `json:"end_ts" binding:"required"`
		InitialBalance float64        `json:"initial_balance"`
		Overrides      map[string]any `json:"overrides"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := s.strategies.Get(req.StrategyID)
	if err != nil {
		writeErr(c, err)
		return
	}
	balance := req.InitialBalance
	if balance <= 0 {
		balance = s.balance
	}
	result, err := s.backtests.Run(c.Request.Context(), backtest.RunRequest{
		Strategy:       st,
		Overrides:      req.Overrides,
		StartTs:        req.StartTs,
		EndTs:          req.EndTs,
		InitialBalance: balance,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleBacktestList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果库未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleBacktestGet(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果库未启用"})
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleBacktestDelete(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果库未启用"})
		return
	}
	if err := s.results.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleBacktestReport(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果库未启用"})
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	path, err := backtest.WriteEquityReport(run, s.reportDir)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}
