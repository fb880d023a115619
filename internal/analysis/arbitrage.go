package analysis

import (
	"context"
	"sort"
	"strings"

	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/shopspring/decimal"
)

// Opportunity 描述一次跨所价差机会，买在低价所、卖在高价所。
type Opportunity struct {
	Symbol       string  `json:"symbol"`
	BuyExchange  string  `json:"buyExchange"`
	BuyPrice     float64 `json:"buyPrice"`
	SellExchange string  `json:"sellExchange"`
	SellPrice    float64 `json:"sellPrice"`
	DiffPercent  float64 `json:"diffPercent"`
}

// FindArbitrage 扫描所有交易所的 swap 交易对，返回价差不低于
// minDiffPercent 的机会，按价差降序。单个交易所的符号表拉取失败
// 只跳过该所，不中断整个扫描。
func (e *Engine) FindArbitrage(ctx context.Context, minDiffPercent float64, quoteCurrency string) ([]Opportunity, error) {
	quote := strings.ToUpper(strings.TrimSpace(quoteCurrency))
	if quote == "" {
		quote = "USDT"
	}

	// symbol -> 挂牌交易所列表
	listings := make(map[string][]string)
	for _, exName := range e.data.Exchanges() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metas, err := e.data.RefreshSymbols(ctx, exName, market.TypeSwap)
		if err != nil {
			logger.Warnf("套利扫描: 拉取符号表失败 exchange=%s: %v", exName, err)
			continue
		}
		for _, meta := range metas {
			if !strings.HasSuffix(meta.Symbol, quote) {
				continue
			}
			listings[meta.Symbol] = append(listings[meta.Symbol], exName)
		}
	}

	shared := make([]string, 0, len(listings))
	for symbol, exchanges := range listings {
		if len(exchanges) >= 2 {
			shared = append(shared, symbol)
		}
	}
	sort.Strings(shared)

	var out []Opportunity
	for _, symbol := range shared {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		type quotePrice struct {
			exchange string
			last     float64
		}
		var prices []quotePrice
		for _, exName := range listings[symbol] {
			t, err := e.data.GetTicker(ctx, exName, symbol, true)
			if err != nil {
				logger.Warnf("套利扫描: 拉取 ticker 失败 exchange=%s symbol=%s: %v", exName, symbol, err)
				continue
			}
			if t.Last <= 0 {
				continue
			}
			prices = append(prices, quotePrice{exchange: exName, last: t.Last})
		}
		if len(prices) < 2 {
			continue
		}
		lo, hi := prices[0], prices[0]
		for _, p := range prices[1:] {
			if p.last < lo.last {
				lo = p
			}
			if p.last > hi.last {
				hi = p
			}
		}
		diff := spreadPercent(lo.last, hi.last)
		if diff < minDiffPercent {
			continue
		}
		out = append(out, Opportunity{
			Symbol:       symbol,
			BuyExchange:  lo.exchange,
			BuyPrice:     lo.last,
			SellExchange: hi.exchange,
			SellPrice:    hi.last,
			DiffPercent:  diff,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiffPercent > out[j].DiffPercent })
	return out, nil
}

// spreadPercent 用十进制算 (max-min)/min*100，避免二进制浮点在
// 阈值边界上的判定抖动。
func spreadPercent(min, max float64) float64 {
	if min <= 0 {
		return 0
	}
	lo := decimal.NewFromFloat(min)
	hi := decimal.NewFromFloat(max)
	pct, _ := hi.Sub(lo).Div(lo).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
