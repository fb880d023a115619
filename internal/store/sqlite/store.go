package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements the market data tables (tickers, ohlcv, symbols,
// correlations) using Gorm + SQLite. Every write is an upsert keyed by the
// table's unique index, so re-applying the same batch is idempotent.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the market database at path.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("market store: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// NewStoreFromDB wraps an existing gorm handle (used by tests).
func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	models := []interface{}{
		&tickerModel{},
		&candleModel{},
		&symbolModel{},
		&correlationModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: allow a small amount of read parallelism while
		// keeping lock contention low.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &market.StoreError{Op: op, Err: err}
}

// UpsertTicker replaces the snapshot for (exchange, symbol).
func (s *Store) UpsertTicker(ctx context.Context, t market.Ticker) error {
	row := tickerModel{
		Exchange:  t.Exchange,
		Symbol:    t.Symbol,
		Timestamp: t.Timestamp,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Volume:    t.Volume,
		RawData:   []byte(t.Raw),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange"}, {Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
	return storeErr("upsert ticker", err)
}

// GetTicker returns the stored snapshot or market.ErrNotFound.
func (s *Store) GetTicker(ctx context.Context, exchange, symbol string) (market.Ticker, error) {
	var row tickerModel
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ?", exchange, symbol).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.Ticker{}, market.ErrNotFound
	}
	if err != nil {
		return market.Ticker{}, storeErr("get ticker", err)
	}
	return market.Ticker{
		Exchange:  row.Exchange,
		Symbol:    row.Symbol,
		Timestamp: row.Timestamp,
		Bid:       row.Bid,
		Ask:       row.Ask,
		Last:      row.Last,
		Volume:    row.Volume,
		Raw:       []byte(row.RawData),
	}, nil
}

// UpsertCandles 批量写入 K 线；整批在一个事务内提交（全有或全无），
// 重复 (exchange,symbol,timeframe,timestamp) 将被覆盖。
func (s *Store) UpsertCandles(ctx context.Context, exchange, symbol, timeframe string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]candleModel, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleModel{
			Exchange:  exchange,
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: c.Timestamp,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "exchange"}, {Name: "symbol"},
				{Name: "timeframe"}, {Name: "timestamp"},
			},
			UpdateAll: true,
		}).CreateInBatches(rows, 200).Error
	})
	return storeErr("upsert candles", err)
}

// GetCandles 返回最近 limit 根 K 线（按 timestamp 升序）。
// 历史不足时返回较短序列；完全没有记录时返回空序列。
func (s *Store) GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []candleModel
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timeframe = ?", exchange, symbol, timeframe).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("get candles", err)
	}
	out := make([]market.Candle, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = market.Candle{
			Timestamp: row.Timestamp,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		}
	}
	return out, nil
}

// CountCandles 返回某个键下已缓存的 K 线数量。
func (s *Store) CountCandles(ctx context.Context, exchange, symbol, timeframe string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&candleModel{}).
		Where("exchange = ? AND symbol = ? AND timeframe = ?", exchange, symbol, timeframe).
		Count(&n).Error
	if err != nil {
		return 0, storeErr("count candles", err)
	}
	return n, nil
}

// UpsertSymbols refreshes symbol metadata for an exchange.
func (s *Store) UpsertSymbols(ctx context.Context, metas []market.SymbolMeta) error {
	if len(metas) == 0 {
		return nil
	}
	rows := make([]symbolModel, 0, len(metas))
	for _, m := range metas {
		rows = append(rows, symbolModel{
			Exchange:          m.Exchange,
			Symbol:            m.Symbol,
			BaseAsset:         m.BaseAsset,
			QuoteAsset:        m.QuoteAsset,
			PricePrecision:    m.PricePrecision,
			QuantityPrecision: m.QuantityPrecision,
			MinNotional:       m.MinNotional,
			MinQty:            m.MinQty,
			MaxQty:            m.MaxQty,
			MarketType:        m.MarketType,
			LastUpdated:       m.LastUpdated,
			RawData:           []byte(m.Raw),
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange"}, {Name: "symbol"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 200).Error
	return storeErr("upsert symbols", err)
}

// ListSymbols returns stored metadata for an exchange, optionally filtered
// by market type.
func (s *Store) ListSymbols(ctx context.Context, exchange, marketType string) ([]market.SymbolMeta, error) {
	q := s.db.WithContext(ctx).Where("exchange = ?", exchange)
	if marketType != "" {
		q = q.Where("market_type = ?", marketType)
	}
	var rows []symbolModel
	if err := q.Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, storeErr("list symbols", err)
	}
	out := make([]market.SymbolMeta, 0, len(rows))
	for _, row := range rows {
		out = append(out, market.SymbolMeta{
			Exchange:          row.Exchange,
			Symbol:            row.Symbol,
			BaseAsset:         row.BaseAsset,
			QuoteAsset:        row.QuoteAsset,
			PricePrecision:    row.PricePrecision,
			QuantityPrecision: row.QuantityPrecision,
			MinNotional:       row.MinNotional,
			MinQty:            row.MinQty,
			MaxQty:            row.MaxQty,
			MarketType:        row.MarketType,
			LastUpdated:       row.LastUpdated,
			Raw:               []byte(row.RawData),
		})
	}
	return out, nil
}

// UpsertCorrelation replaces the record keyed by
// (symbol, exchange1, exchange2, timeframe). Exchanges are stored in
// canonical (lexicographic) order so correlation(A,B) and correlation(B,A)
// share one row.
func (s *Store) UpsertCorrelation(ctx context.Context, c market.Correlation) error {
	exA, exB := market.CanonicalPair(c.ExchangeA, c.ExchangeB)
	row := correlationModel{
		Symbol:      c.Symbol,
		ExchangeA:   exA,
		ExchangeB:   exB,
		Timeframe:   c.Timeframe,
		Correlation: c.Correlation,
		Timestamp:   c.ComputedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"}, {Name: "exchange1"},
			{Name: "exchange2"}, {Name: "timeframe"},
		},
		UpdateAll: true,
	}).Create(&row).Error
	return storeErr("upsert correlation", err)
}

// GetCorrelation returns the stored record for a pair (order-insensitive).
func (s *Store) GetCorrelation(ctx context.Context, symbol, exA, exB, timeframe string) (market.Correlation, error) {
	a, b := market.CanonicalPair(exA, exB)
	var row correlationModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND exchange1 = ? AND exchange2 = ? AND timeframe = ?", symbol, a, b, timeframe).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.Correlation{}, market.ErrNotFound
	}
	if err != nil {
		return market.Correlation{}, storeErr("get correlation", err)
	}
	return market.Correlation{
		Symbol:      row.Symbol,
		ExchangeA:   row.ExchangeA,
		ExchangeB:   row.ExchangeB,
		Timeframe:   row.Timeframe,
		Correlation: row.Correlation,
		ComputedAt:  row.Timestamp,
	}, nil
}
