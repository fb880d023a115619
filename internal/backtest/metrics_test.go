package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func curve(values ...float64) []EquityPoint {
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Timestamp: int64(i) * dayMS, Value: v}
	}
	return out
}

func pnlTrade(pnl float64) TradeRecord {
	return TradeRecord{Side: SideSell, RealizedPnl: &pnl}
}

func TestMaxDrawdownScenario(t *testing.T) {
	assert.InDelta(t, -0.25, maxDrawdown(curve(100, 120, 90, 150)), 1e-9)
}

func TestMaxDrawdownMonotonic(t *testing.T) {
	assert.Zero(t, maxDrawdown(curve(100, 110, 120)))
}

func TestComputeMetricsReturns(t *testing.T) {
	eq := curve(10_000, 10_100, 11_000)
	m := ComputeMetrics(10_000, 11_000, eq, nil, 0, 2*dayMS)
	assert.InDelta(t, 10.0, m.TotalReturn, 1e-9)
	// (1.1)^(365/2) - 1，年化到百分数。
	want := (math.Pow(1.1, 365.0/2) - 1) * 100
	assert.InDelta(t, want, m.AnnualizedReturn, 1e-6)
}

func TestComputeMetricsZeroDays(t *testing.T) {
	m := ComputeMetrics(10_000, 10_000, curve(10_000), nil, 0, 0)
	assert.Zero(t, m.AnnualizedReturn)
	assert.Zero(t, m.Sharpe)
}

func TestWinRateAndProfitFactor(t *testing.T) {
	trades := []TradeRecord{
		{Side: SideBuy}, // 买入无 pnl，不进分母
		pnlTrade(10),
		pnlTrade(-5),
		pnlTrade(20),
	}
	m := ComputeMetrics(10_000, 10_025, curve(10_000, 10_025), trades, 0, dayMS)
	assert.InDelta(t, 200.0/3, m.WinRate, 1e-9)
	assert.InDelta(t, 6.0, m.ProfitFactor, 1e-9)
	assert.Equal(t, 4, m.TotalTrades)
}

func TestProfitFactorInfiniteWithoutLosses(t *testing.T) {
	m := ComputeMetrics(10_000, 10_010, curve(10_000, 10_010), []TradeRecord{pnlTrade(10)}, 0, dayMS)
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.InDelta(t, 100.0, m.WinRate, 1e-9)
}

func TestProfitFactorZeroWithoutPnlData(t *testing.T) {
	m := ComputeMetrics(10_000, 10_000, curve(10_000, 10_000), []TradeRecord{{Side: SideBuy}}, 0, dayMS)
	assert.Zero(t, m.ProfitFactor)
	assert.Zero(t, m.WinRate)
}

func TestSharpeZeroVariance(t *testing.T) {
	assert.Zero(t, sharpe(curve(100, 100, 100)))
}

func TestSharpePositiveTrend(t *testing.T) {
	s := sharpe(curve(100, 101, 103, 104, 107))
	assert.True(t, s > 0)
}
