package sqlite

import "gorm.io/datatypes"

type tickerModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Exchange  string         `gorm:"column:exchange;uniqueIndex:idx_ticker_key,priority:1"`
	Symbol    string         `gorm:"column:symbol;uniqueIndex:idx_ticker_key,priority:2"`
	Timestamp int64          `gorm:"column:timestamp"`
	Bid       float64        `gorm:"column:bid"`
	Ask       float64        `gorm:"column:ask"`
	Last      float64        `gorm:"column:last"`
	Volume    float64        `gorm:"column:volume"`
	RawData   datatypes.JSON `gorm:"column:raw_data;type:TEXT"`
}

func (tickerModel) TableName() string { return "tickers" }

type candleModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Exchange  string  `gorm:"column:exchange;uniqueIndex:idx_candle_key,priority:1"`
	Symbol    string  `gorm:"column:symbol;uniqueIndex:idx_candle_key,priority:2"`
	Timeframe string  `gorm:"column:timeframe;uniqueIndex:idx_candle_key,priority:3"`
	Timestamp int64   `gorm:"column:timestamp;uniqueIndex:idx_candle_key,priority:4"`
	Open      float64 `gorm:"column:open"`
	High      float64 `gorm:"column:high"`
	Low       float64 `gorm:"column:low"`
	Close     float64 `gorm:"column:close"`
	Volume    float64 `gorm:"column:volume"`
}

func (candleModel) TableName() string { return "ohlcv" }

type symbolModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	Exchange          string         `gorm:"column:exchange;uniqueIndex:idx_symbol_key,priority:1"`
	Symbol            string         `gorm:"column:symbol;uniqueIndex:idx_symbol_key,priority:2"`
	BaseAsset         string         `gorm:"column:base_asset"`
	QuoteAsset        string         `gorm:"column:quote_asset"`
	PricePrecision    int            `gorm:"column:price_precision"`
	QuantityPrecision int            `gorm:"column:quantity_precision"`
	MinNotional       float64        `gorm:"column:min_notional"`
	MinQty            float64        `gorm:"column:min_qty"`
	MaxQty            float64        `gorm:"column:max_qty"`
	MarketType        string         `gorm:"column:market_type"`
	LastUpdated       int64          `gorm:"column:last_updated"`
	RawData           datatypes.JSON `gorm:"column:raw_data;type:TEXT"`
}

func (symbolModel) TableName() string { return "symbols" }

type correlationModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	Symbol      string  `gorm:"column:symbol;uniqueIndex:idx_corr_key,priority:1"`
	ExchangeA   string  `gorm:"column:exchange1;uniqueIndex:idx_corr_key,priority:2"`
	ExchangeB   string  `gorm:"column:exchange2;uniqueIndex:idx_corr_key,priority:3"`
	Timeframe   string  `gorm:"column:timeframe;uniqueIndex:idx_corr_key,priority:4"`
	Correlation float64 `gorm:"column:correlation"`
	Timestamp   int64   `gorm:"column:timestamp"`
}

func (correlationModel) TableName() string { return "correlations" }
