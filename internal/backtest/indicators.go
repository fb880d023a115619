package backtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/markcheno/go-talib"
)

// 内置生产器：用指标计算替代原型里的用户脚本执行。
// 参数缺省值在各自 Produce 内兜底。

// SMACrossProducer 双均线交叉：快线上穿买入，下穿卖出。
// 参数: fast(10), slow(30), amount(0.1)。
type SMACrossProducer struct{}

func (SMACrossProducer) Name() string { return "sma_cross" }

func (SMACrossProducer) Produce(windows map[string][]market.Candle, params map[string]any) (ProduceResult, error) {
	fast := paramInt(params, "fast", 10)
	slow := paramInt(params, "slow", 30)
	amount := paramFloat(params, "amount", 0.1)
	if fast <= 0 || slow <= 0 || fast >= slow {
		return ProduceResult{}, fmt.Errorf("sma_cross: 周期参数非法 fast=%d slow=%d", fast, slow)
	}
	var res ProduceResult
	for _, key := range sortedWindowKeys(windows) {
		candles := windows[key]
		if len(candles) < slow+1 {
			res.Logs = append(res.Logs, fmt.Sprintf("%s: 样本不足（%d < %d），跳过", key, len(candles), slow+1))
			continue
		}
		closes := closeSeries(candles)
		fastSMA := talib.Sma(closes, fast)
		slowSMA := talib.Sma(closes, slow)
		n := len(closes)
		prevDiff := fastSMA[n-2] - slowSMA[n-2]
		currDiff := fastSMA[n-1] - slowSMA[n-1]
		last := candles[n-1]
		exchange, symbol, timeframe := splitWindowKey(key)
		switch {
		case prevDiff <= 0 && currDiff > 0:
			res.Signals = append(res.Signals, Signal{
				Exchange: exchange, Symbol: symbol, Side: SideBuy,
				Price: last.Close, Amount: amount,
				Reason: "sma 金叉", Timeframe: timeframe, EmittedAt: last.Timestamp,
			})
		case prevDiff >= 0 && currDiff < 0:
			res.Signals = append(res.Signals, Signal{
				Exchange: exchange, Symbol: symbol, Side: SideSell,
				Price: last.Close, Amount: amount,
				Reason: "sma 死叉", Timeframe: timeframe, EmittedAt: last.Timestamp,
			})
		}
	}
	return res, nil
}

// RSIReversionProducer RSI 反转：超卖买入，超买卖出。
// 参数: period(14), oversold(30), overbought(70), amount(0.1)。
type RSIReversionProducer struct{}

func (RSIReversionProducer) Name() string { return "rsi_reversion" }

func (RSIReversionProducer) Produce(windows map[string][]market.Candle, params map[string]any) (ProduceResult, error) {
	period := paramInt(params, "period", 14)
	oversold := paramFloat(params, "oversold", 30)
	overbought := paramFloat(params, "overbought", 70)
	amount := paramFloat(params, "amount", 0.1)
	if period <= 1 {
		return ProduceResult{}, fmt.Errorf("rsi_reversion: period 非法 %d", period)
	}
	var res ProduceResult
	for _, key := range sortedWindowKeys(windows) {
		candles := windows[key]
		if len(candles) < period+1 {
			res.Logs = append(res.Logs, fmt.Sprintf("%s: 样本不足（%d < %d），跳过", key, len(candles), period+1))
			continue
		}
		closes := closeSeries(candles)
		rsi := talib.Rsi(closes, period)
		value := rsi[len(rsi)-1]
		last := candles[len(candles)-1]
		exchange, symbol, timeframe := splitWindowKey(key)
		switch {
		case value <= oversold:
			res.Signals = append(res.Signals, Signal{
				Exchange: exchange, Symbol: symbol, Side: SideBuy,
				Price: last.Close, Amount: amount,
				Reason: fmt.Sprintf("rsi=%.1f 超卖", value), Timeframe: timeframe, EmittedAt: last.Timestamp,
			})
		case value >= overbought:
			res.Signals = append(res.Signals, Signal{
				Exchange: exchange, Symbol: symbol, Side: SideSell,
				Price: last.Close, Amount: amount,
				Reason: fmt.Sprintf("rsi=%.1f 超买", value), Timeframe: timeframe, EmittedAt: last.Timestamp,
			})
		}
	}
	return res, nil
}

// sortedWindowKeys 固定窗口遍历顺序，保证同样输入产出同样的信号序列。
func sortedWindowKeys(windows map[string][]market.Candle) []string {
	keys := make([]string, 0, len(windows))
	for key := range windows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func closeSeries(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func splitWindowKey(key string) (exchange, symbol, timeframe string) {
	exchange, rest, _ := strings.Cut(key, "_")
	symbol, timeframe, _ = strings.Cut(rest, "_")
	return exchange, symbol, timeframe
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}
