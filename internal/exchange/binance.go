package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const binanceMaxLimit = 1500

// BinanceConfig 描述 Binance 适配器的访问参数。公共行情无需密钥。
type BinanceConfig struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	HTTPTimeout time.Duration
}

// Binance 基于 go-binance SDK，现货与 USDT 本位合约各持一个 client。
type Binance struct {
	spot *binance.Client
	futs *futures.Client
}

func NewBinance(cfg BinanceConfig) *Binance {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	spot := binance.NewClient(cfg.APIKey, cfg.APISecret)
	spot.HTTPClient = httpClient
	futs := futures.NewClient(cfg.APIKey, cfg.APISecret)
	futs.HTTPClient = httpClient
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		futs.BaseURL = base
	}
	return &Binance{spot: spot, futs: futs}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) FetchTicker(ctx context.Context, symbol, marketType string) (market.Ticker, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.Ticker{}, adapterErr(b.Name(), "fetch_ticker", fmt.Errorf("symbol 不能为空"))
	}
	if marketType == market.TypeSpot {
		return b.spotTicker(ctx, symbol)
	}
	return b.swapTicker(ctx, symbol)
}

func (b *Binance) swapTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	stats, err := b.futs.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.Ticker{}, adapterErr(b.Name(), "fetch_ticker", err)
	}
	if len(stats) == 0 {
		return market.Ticker{}, adapterErr(b.Name(), "fetch_ticker", fmt.Errorf("empty stats for %s", symbol))
	}
	st := stats[0]
	t := market.Ticker{
		Exchange:  b.Name(),
		Symbol:    symbol,
		Timestamp: st.CloseTime,
		Last:      parsePrice(st.LastPrice),
		Volume:    parsePrice(st.Volume),
	}
	// 合约 24hr 统计不含盘口，单独取 book ticker。
	books, err := b.futs.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err == nil && len(books) > 0 {
		t.Bid = parsePrice(books[0].BidPrice)
		t.Ask = parsePrice(books[0].AskPrice)
	}
	t.Raw, _ = json.Marshal(st)
	return t, nil
}

func (b *Binance) spotTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	stats, err := b.spot.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.Ticker{}, adapterErr(b.Name(), "fetch_ticker", err)
	}
	if len(stats) == 0 {
		return market.Ticker{}, adapterErr(b.Name(), "fetch_ticker", fmt.Errorf("empty stats for %s", symbol))
	}
	st := stats[0]
	t := market.Ticker{
		Exchange:  b.Name(),
		Symbol:    symbol,
		Timestamp: st.CloseTime,
		Bid:       parsePrice(st.BidPrice),
		Ask:       parsePrice(st.AskPrice),
		Last:      parsePrice(st.LastPrice),
		Volume:    parsePrice(st.Volume),
	}
	t.Raw, _ = json.Marshal(st)
	return t, nil
}

func (b *Binance) FetchCandles(ctx context.Context, symbol, marketType, timeframe string, limit int, since int64) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval := strings.ToLower(strings.TrimSpace(timeframe))
	if symbol == "" || interval == "" {
		return nil, adapterErr(b.Name(), "fetch_candles", fmt.Errorf("symbol/timeframe 不能为空"))
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	if marketType == market.TypeSpot {
		svc := b.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if since > 0 {
			svc = svc.StartTime(since)
		}
		kls, err := svc.Do(ctx)
		if err != nil {
			return nil, adapterErr(b.Name(), "fetch_candles", err)
		}
		out := make([]market.Candle, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Candle{
				Timestamp: kl.OpenTime,
				Open:      parsePrice(kl.Open),
				High:      parsePrice(kl.High),
				Low:       parsePrice(kl.Low),
				Close:     parsePrice(kl.Close),
				Volume:    parsePrice(kl.Volume),
			})
		}
		return out, nil
	}
	svc := b.futs.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if since > 0 {
		svc = svc.StartTime(since)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, adapterErr(b.Name(), "fetch_candles", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			Timestamp: kl.OpenTime,
			Open:      parsePrice(kl.Open),
			High:      parsePrice(kl.High),
			Low:       parsePrice(kl.Low),
			Close:     parsePrice(kl.Close),
			Volume:    parsePrice(kl.Volume),
		})
	}
	return out, nil
}

func (b *Binance) LoadMarkets(ctx context.Context, marketType string) ([]market.SymbolMeta, error) {
	now := time.Now().UnixMilli()
	if marketType == market.TypeSpot {
		info, err := b.spot.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, adapterErr(b.Name(), "load_markets", err)
		}
		out := make([]market.SymbolMeta, 0, len(info.Symbols))
		for _, s := range info.Symbols {
			if s.Status != "TRADING" {
				continue
			}
			meta := market.SymbolMeta{
				Exchange:          b.Name(),
				Symbol:            s.Symbol,
				BaseAsset:         s.BaseAsset,
				QuoteAsset:        s.QuoteAsset,
				PricePrecision:    s.QuotePrecision,
				QuantityPrecision: s.BaseAssetPrecision,
				MarketType:        market.TypeSpot,
				LastUpdated:       now,
			}
			if f := s.LotSizeFilter(); f != nil {
				meta.MinQty = parsePrice(f.MinQuantity)
				meta.MaxQty = parsePrice(f.MaxQuantity)
			}
			meta.Raw, _ = json.Marshal(s)
			out = append(out, meta)
		}
		return out, nil
	}
	info, err := b.futs.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, adapterErr(b.Name(), "load_markets", err)
	}
	out := make([]market.SymbolMeta, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		meta := market.SymbolMeta{
			Exchange:          b.Name(),
			Symbol:            s.Symbol,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
			MarketType:        market.TypeSwap,
			LastUpdated:       now,
		}
		if f := s.LotSizeFilter(); f != nil {
			meta.MinQty = parsePrice(f.MinQuantity)
			meta.MaxQty = parsePrice(f.MaxQuantity)
		}
		meta.Raw, _ = json.Marshal(s)
		out = append(out, meta)
	}
	return out, nil
}

// parsePrice 解析交易所返回的十进制字符串，非法输入返回 0。
func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
