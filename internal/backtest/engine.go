package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/market"
	"github.com/Pinman777/PBGui-TEST/internal/strategy"

	"github.com/google/uuid"
)

// MarketData 是引擎依赖的缓存管理器子集。
type MarketData interface {
	GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int, since int64, force bool) ([]market.Candle, error)
}

// RunRequest 一次回测请求。Overrides 与策略参数浅合并，键级覆盖。
type RunRequest struct {
	Strategy       strategy.Strategy
	Overrides      map[string]any
	StartTs        int64
	EndTs          int64
	InitialBalance float64
}

// RunResult 一次回测的完整产出。
type RunResult struct {
	ID         string        `json:"id"`
	StrategyID string        `json:"strategyId"`
	Strategy   string        `json:"strategy"`
	StartTs    int64         `json:"startTs"`
	EndTs      int64         `json:"endTs"`
	Status     string        `json:"status"` // completed / cancelled
	Metrics    Metrics       `json:"metrics"`
	Trades     []TradeRecord `json:"trades"`
	Equity     []EquityPoint `json:"equity"`
	Logs       []string      `json:"logs,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
}

// Engine 以日为步长驱动信号生产器重放历史。
type Engine struct {
	data      MarketData
	producers *ProducerRegistry
	results   *ResultStore
	now       func() time.Time
}

// NewEngine 构建回测引擎；results 可为 nil（不落库）。
func NewEngine(data MarketData, producers *ProducerRegistry, results *ResultStore, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{data: data, producers: producers, results: results, now: now}
}

// Run 执行一次回测。生产器单步失败只跳过该步的交易处理；取消时返回
// 已推进部分的结果与 ctx 错误。结果落库失败对本次运行是致命的。
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	st := req.Strategy
	if err := st.Normalize(); err != nil {
		return nil, err
	}
	if req.StartTs <= 0 || req.EndTs < req.StartTs {
		return nil, &market.ValidationError{Field: "range", Reason: fmt.Sprintf("非法时间区间 [%d, %d]", req.StartTs, req.EndTs)}
	}
	if len(st.Exchanges) == 0 || len(st.Symbols) == 0 {
		return nil, &market.ValidationError{Field: "strategy", Reason: "exchanges/symbols 不能为空"}
	}
	producer, err := e.producers.Get(st.Producer)
	if err != nil {
		return nil, err
	}
	initial := req.InitialBalance
	if initial <= 0 {
		initial = 10_000
	}
	params := mergeParams(st.Parameters, req.Overrides)

	result := &RunResult{
		ID:         uuid.NewString(),
		StrategyID: st.ID,
		Strategy:   st.Name,
		StartTs:    req.StartTs,
		EndTs:      req.EndTs,
		Status:     "completed",
		CreatedAt:  e.now().UnixMilli(),
	}
	portfolio := NewPortfolio(initial)

	var runErr error
	for t := req.StartTs; t <= req.EndTs; t += dayMS {
		if err := ctx.Err(); err != nil {
			result.Status = "cancelled"
			runErr = err
			break
		}
		windows := e.collectWindows(ctx, st, t, result)
		res, err := producer.Produce(windows, params)
		if err != nil {
			perr := &market.ProducerError{Step: t, Err: err}
			logger.Warnf("回测 %s: 生产器失败 t=%d: %v", result.ID, t, err)
			result.Logs = append(result.Logs, "producer error: "+perr.Error())
		} else {
			for _, line := range res.Logs {
				result.Logs = append(result.Logs, fmt.Sprintf("[%d] %s", t, line))
			}
			for _, sig := range res.Signals {
				// 丢弃时间窗外（含未来日期）的信号。
				if sig.EmittedAt < req.StartTs || sig.EmittedAt > t {
					continue
				}
				switch sig.Side {
				case SideBuy:
					if !portfolio.ApplyBuy(sig) {
						result.Logs = append(result.Logs, fmt.Sprintf("[%d] 拒绝买入 %s %s: 余额不足", t, sig.Exchange, sig.Symbol))
					}
				case SideSell:
					if !portfolio.ApplySell(sig) {
						result.Logs = append(result.Logs, fmt.Sprintf("[%d] 拒绝卖出 %s %s: 持仓不足", t, sig.Exchange, sig.Symbol))
					}
				}
			}
		}
		portfolio.MarkToMarket(t, e.markPrices(ctx, portfolio, t))
	}

	result.Trades = portfolio.Trades
	result.Equity = portfolio.Equity
	result.Metrics = ComputeMetrics(initial, portfolio.Balance, portfolio.Equity, portfolio.Trades, req.StartTs, req.EndTs)

	if e.results != nil {
		if err := e.results.SaveRun(ctx, result); err != nil {
			return result, err
		}
	}
	return result, runErr
}

// collectWindows 为当前步拉取全部市场窗口，单个窗口失败只记日志。
func (e *Engine) collectWindows(ctx context.Context, st strategy.Strategy, t int64, result *RunResult) map[string][]market.Candle {
	windows := make(map[string][]market.Candle)
	for _, exName := range st.Exchanges {
		for _, symbol := range st.Symbols {
			for _, tf := range st.Timeframes {
				candles, err := e.data.GetCandles(ctx, exName, symbol, tf, st.Limit, t, false)
				if err != nil {
					result.Logs = append(result.Logs, fmt.Sprintf("[%d] 窗口拉取失败 %s/%s/%s: %v", t, exName, symbol, tf, err))
					continue
				}
				windows[WindowKey(exName, symbol, tf)] = candles
			}
		}
	}
	return windows
}

// markPrices 取各持仓键在 t 前一日的日线收盘价作为标记价。
func (e *Engine) markPrices(ctx context.Context, p *Portfolio, t int64) map[string]float64 {
	marks := make(map[string]float64)
	for key, pos := range p.Positions {
		if pos.Size <= 0 {
			continue
		}
		candles, err := e.data.GetCandles(ctx, pos.Exchange, pos.Symbol, "1d", 1, t-dayMS, false)
		if err != nil || len(candles) == 0 {
			continue
		}
		marks[key] = candles[0].Close
	}
	return marks
}

// mergeParams 浅合并：override 按键覆盖 base。
func mergeParams(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
