package exchange

import (
	"context"

	"github.com/Pinman777/PBGui-TEST/internal/market"
)

// Adapter 统一各交易所的行情拉取能力。实现负责自身的限频与签名，
// 失败以 market.AdapterError 向上抛出。
type Adapter interface {
	Name() string

	// FetchTicker 返回最新行情快照（含原始 payload）。
	FetchTicker(ctx context.Context, symbol, marketType string) (market.Ticker, error)

	// FetchCandles 返回按时间升序排列的 K 线；since>0 时从该时间（ms）开始。
	FetchCandles(ctx context.Context, symbol, marketType, timeframe string, limit int, since int64) ([]market.Candle, error)

	// LoadMarkets 返回指定市场类型下全部可交易符号的元数据。
	LoadMarkets(ctx context.Context, marketType string) ([]market.SymbolMeta, error)
}

func adapterErr(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	return &market.AdapterError{Exchange: exchange, Op: op, Err: err}
}
