package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述缓存与分析使用的周期信息。
type Timeframe struct {
	Key      string
	Duration time.Duration
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Millis 返回周期长度（毫秒）。
func (tf Timeframe) Millis() int64 {
	return tf.Duration.Milliseconds()
}

// CandlesPerDays 计算覆盖 days 天所需的 K 线数量。
func (tf Timeframe) CandlesPerDays(days int) int {
	if days <= 0 || tf.Duration <= 0 {
		return 0
	}
	perDay := int64(24 * time.Hour / tf.Duration)
	if perDay < 1 {
		perDay = 1
	}
	return int(perDay) * days
}
