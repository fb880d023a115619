package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/market"
)

// ExportCSV 导出某交易对最近 days 天的 K 线为 CSV，返回文件路径。
// 文件名形如 binance_BTCUSDT_1h_20260830.csv，落在配置的导出目录下。
func (m *Manager) ExportCSV(ctx context.Context, exchangeName, symbol, timeframe string, days int) (string, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return "", &market.ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	if days <= 0 {
		days = 30
	}
	limit := tf.CandlesPerDays(days)
	since := m.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	candles, err := m.GetCandles(ctx, exchangeName, symbol, tf.Key, limit, since, true)
	if err != nil {
		return "", err
	}
	if len(candles) == 0 {
		return "", market.ErrNotFound
	}

	dir := m.exportDir
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建导出目录失败: %w", err)
	}
	// 符号里的 / 与 : 不能进文件名。
	sym := strings.NewReplacer("/", "_", ":", "_").Replace(strings.ToUpper(strings.TrimSpace(symbol)))
	name := fmt.Sprintf("%s_%s_%s_%s.csv",
		strings.ToLower(exchangeName),
		sym,
		tf.Key,
		m.now().UTC().Format("20060102"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建导出文件失败: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "datetime", "open", "high", "low", "close", "volume"}); err != nil {
		return "", err
	}
	for _, c := range candles {
		row := []string{
			strconv.FormatInt(c.Timestamp, 10),
			time.UnixMilli(c.Timestamp).UTC().Format(time.RFC3339),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
