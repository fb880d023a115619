package market

import "encoding/json"

// 市场类型：永续合约（swap）或现货（spot）。
const (
	TypeSwap = "swap"
	TypeSpot = "spot"
)

// Candle 表示单根 OHLCV K 线，Timestamp 为桶起始时间（Unix ms）。
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker 表示某交易所/交易对的最新行情快照。
type Ticker struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Bid       float64         `json:"bid"`
	Ask       float64         `json:"ask"`
	Last      float64         `json:"last"`
	Volume    float64         `json:"volume"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// SymbolMeta 描述交易对的精度与下单限制。
type SymbolMeta struct {
	Exchange          string          `json:"exchange"`
	Symbol            string          `json:"symbol"`
	BaseAsset         string          `json:"base_asset"`
	QuoteAsset        string          `json:"quote_asset"`
	PricePrecision    int             `json:"price_precision"`
	QuantityPrecision int             `json:"quantity_precision"`
	MinNotional       float64         `json:"min_notional"`
	MinQty            float64         `json:"min_qty"`
	MaxQty            float64         `json:"max_qty"`
	MarketType        string          `json:"market_type"`
	LastUpdated       int64           `json:"last_updated"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Correlation 保存一对交易所在同一交易对上的收盘价相关性。
// ExchangeA/ExchangeB 始终按字典序存储（A < B）。
type Correlation struct {
	Symbol      string  `json:"symbol"`
	ExchangeA   string  `json:"exchange_a"`
	ExchangeB   string  `json:"exchange_b"`
	Timeframe   string  `json:"timeframe"`
	Correlation float64 `json:"correlation"`
	ComputedAt  int64   `json:"computed_at"`
}

// CanonicalPair 返回按字典序排列的交易所对。
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
