package backtest

import "math"

const dayMS = 86_400_000

// Metrics 一次回测的汇总指标，比率类字段以百分数表示。
type Metrics struct {
	InitialBalance   float64 `json:"initialBalance"`
	FinalBalance     float64 `json:"finalBalance"`
	FinalValue       float64 `json:"finalValue"`
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	Sharpe           float64 `json:"sharpe"`
	WinRate          float64 `json:"winRate"`
	ProfitFactor     float64 `json:"profitFactor"`
	TotalTrades      int     `json:"totalTrades"`
}

// ComputeMetrics 在完成的权益曲线与账目上计算指标。
func ComputeMetrics(initialBalance, finalBalance float64, equity []EquityPoint, trades []TradeRecord, startTs, endTs int64) Metrics {
	m := Metrics{
		InitialBalance: initialBalance,
		FinalBalance:   finalBalance,
		TotalTrades:    len(trades),
	}
	finalValue := initialBalance
	if len(equity) > 0 {
		finalValue = equity[len(equity)-1].Value
	}
	m.FinalValue = finalValue

	var totalReturn float64
	if initialBalance > 0 {
		totalReturn = (finalValue - initialBalance) / initialBalance
	}
	m.TotalReturn = totalReturn * 100

	days := float64(endTs-startTs) / dayMS
	if days > 0 {
		m.AnnualizedReturn = (math.Pow(1+totalReturn, 365/days) - 1) * 100
	}

	m.MaxDrawdown = maxDrawdown(equity) * 100
	m.Sharpe = sharpe(equity)

	wins, losses := 0, 0
	var grossProfit, grossLoss float64
	for _, tr := range trades {
		if tr.RealizedPnl == nil {
			continue
		}
		pnl := *tr.RealizedPnl
		if pnl > 0 {
			wins++
			grossProfit += pnl
		} else {
			losses++
			grossLoss += pnl
		}
	}
	if wins+losses > 0 {
		m.WinRate = float64(wins) / float64(wins+losses) * 100
	}
	switch {
	case grossLoss < 0:
		m.ProfitFactor = grossProfit / math.Abs(grossLoss)
	case wins > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}
	return m
}

// maxDrawdown 返回相对滚动峰值的最大回撤（非正的分数）。
func maxDrawdown(equity []EquityPoint) float64 {
	var worst float64
	peak := math.Inf(-1)
	for _, pt := range equity {
		if pt.Value > peak {
			peak = pt.Value
		}
		if peak > 0 {
			dd := (pt.Value - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe 用日收益序列计算年化夏普（252 个交易日）。
func sharpe(equity []EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].Value-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}
