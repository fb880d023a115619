package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/tidwall/gjson"
)

// OKX 基于公共 REST v5 接口（/api/v5/market、/api/v5/public），无需密钥。
type OKX struct {
	baseURL string
	client  *http.Client
}

func NewOKX(base string, timeout time.Duration) *OKX {
	if base == "" {
		base = "https://www.okx.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OKX{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OKX) Name() string { return "okx" }

var okxBars = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "4h": "4H", "1d": "1D",
}

// 常见计价币，用于从 BTCUSDT 风格符号推导 OKX instId（BTC-USDT）。
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "BTC", "ETH"}

func okxInstID(symbol, marketType string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		if marketType == market.TypeSwap && !strings.HasSuffix(symbol, "-SWAP") {
			return symbol + "-SWAP", nil
		}
		return symbol, nil
	}
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			inst := symbol[:len(symbol)-len(q)] + "-" + q
			if marketType == market.TypeSwap {
				inst += "-SWAP"
			}
			return inst, nil
		}
	}
	return "", fmt.Errorf("无法识别计价币: %s", symbol)
}

func okxSymbol(instID string) string {
	instID = strings.TrimSuffix(instID, "-SWAP")
	return strings.ReplaceAll(instID, "-", "")
}

func (o *OKX) get(ctx context.Context, path string, query url.Values) (gjson.Result, []byte, error) {
	u := o.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return gjson.Result{}, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, nil, err
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, nil, fmt.Errorf("okx 返回状态码 %d", resp.StatusCode)
	}
	doc := gjson.ParseBytes(body)
	if code := doc.Get("code").String(); code != "" && code != "0" {
		return gjson.Result{}, nil, fmt.Errorf("okx 业务错误 code=%s msg=%s", code, doc.Get("msg").String())
	}
	return doc, body, nil
}

func (o *OKX) FetchTicker(ctx context.Context, symbol, marketType string) (market.Ticker, error) {
	instID, err := okxInstID(symbol, marketType)
	if err != nil {
		return market.Ticker{}, adapterErr(o.Name(), "fetch_ticker", err)
	}
	q := url.Values{}
	q.Set("instId", instID)
	doc, _, err := o.get(ctx, "/api/v5/market/ticker", q)
	if err != nil {
		return market.Ticker{}, adapterErr(o.Name(), "fetch_ticker", err)
	}
	row := doc.Get("data.0")
	if !row.Exists() {
		return market.Ticker{}, adapterErr(o.Name(), "fetch_ticker", fmt.Errorf("empty ticker for %s", instID))
	}
	t := market.Ticker{
		Exchange:  o.Name(),
		Symbol:    okxSymbol(instID),
		Timestamp: row.Get("ts").Int(),
		Bid:       row.Get("bidPx").Float(),
		Ask:       row.Get("askPx").Float(),
		Last:      row.Get("last").Float(),
		Volume:    row.Get("vol24h").Float(),
	}
	t.Raw = json.RawMessage(row.Raw)
	return t, nil
}

func (o *OKX) FetchCandles(ctx context.Context, symbol, marketType, timeframe string, limit int, since int64) ([]market.Candle, error) {
	instID, err := okxInstID(symbol, marketType)
	if err != nil {
		return nil, adapterErr(o.Name(), "fetch_candles", err)
	}
	bar, ok := okxBars[strings.ToLower(strings.TrimSpace(timeframe))]
	if !ok {
		return nil, adapterErr(o.Name(), "fetch_candles", fmt.Errorf("不支持的周期: %s", timeframe))
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 300 {
		limit = 300
	}
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(limit))
	if since > 0 {
		// before 语义：返回晚于该时间戳的数据。
		q.Set("before", strconv.FormatInt(since-1, 10))
	}
	doc, _, err := o.get(ctx, "/api/v5/market/candles", q)
	if err != nil {
		return nil, adapterErr(o.Name(), "fetch_candles", err)
	}
	rows := doc.Get("data").Array()
	out := make([]market.Candle, 0, len(rows))
	// OKX 返回按时间倒序，翻转为升序。
	for i := len(rows) - 1; i >= 0; i-- {
		cols := rows[i].Array()
		if len(cols) < 6 {
			continue
		}
		out = append(out, market.Candle{
			Timestamp: cols[0].Int(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Float(),
		})
	}
	return out, nil
}

func (o *OKX) LoadMarkets(ctx context.Context, marketType string) ([]market.SymbolMeta, error) {
	instType := "SWAP"
	if marketType == market.TypeSpot {
		instType = "SPOT"
	}
	q := url.Values{}
	q.Set("instType", instType)
	doc, _, err := o.get(ctx, "/api/v5/public/instruments", q)
	if err != nil {
		return nil, adapterErr(o.Name(), "load_markets", err)
	}
	now := time.Now().UnixMilli()
	rows := doc.Get("data").Array()
	out := make([]market.SymbolMeta, 0, len(rows))
	for _, row := range rows {
		if row.Get("state").String() != "live" {
			continue
		}
		instID := row.Get("instId").String()
		base := row.Get("baseCcy").String()
		quote := row.Get("quoteCcy").String()
		if base == "" || quote == "" {
			// SWAP 合约不带 baseCcy/quoteCcy，从标的拆分。
			parts := strings.SplitN(strings.TrimSuffix(instID, "-SWAP"), "-", 2)
			if len(parts) == 2 {
				base, quote = parts[0], parts[1]
			}
		}
		out = append(out, market.SymbolMeta{
			Exchange:          o.Name(),
			Symbol:            okxSymbol(instID),
			BaseAsset:         base,
			QuoteAsset:        quote,
			PricePrecision:    decimalPlaces(row.Get("tickSz").String()),
			QuantityPrecision: decimalPlaces(row.Get("lotSz").String()),
			MinQty:            row.Get("minSz").Float(),
			MaxQty:            row.Get("maxMktSz").Float(),
			MarketType:        marketType,
			LastUpdated:       now,
			Raw:               json.RawMessage(row.Raw),
		})
	}
	return out, nil
}

func decimalPlaces(step string) int {
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return len(strings.TrimRight(step[i+1:], "0"))
	}
	return 0
}
