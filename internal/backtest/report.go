package backtest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	reportWidthPx  = 1200
	reportHeightPx = 520
)

// WriteEquityReport 渲染权益曲线为独立 HTML 文件，返回路径。
func WriteEquityReport(result *RunResult, dir string) (string, error) {
	if result == nil || len(result.Equity) == 0 {
		return "", fmt.Errorf("权益曲线为空，无法生成报告")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	html, err := buildEquityHTML(result)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("backtest_%s.html", result.ID))
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RenderEquityPNG 用无头浏览器把报告截成 PNG，返回图片字节。
// 环境缺少可用的 Chrome 时返回错误，调用方可降级为仅 HTML。
func RenderEquityPNG(ctx context.Context, result *RunResult) ([]byte, error) {
	html, err := buildEquityHTML(result)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(reportWidthPx), int64(reportHeightPx)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 90),
	}
	if err := chromedp.Run(timeoutCtx, tasks); err != nil {
		return nil, fmt.Errorf("render equity png failed: %w", err)
	}
	return screenshot, nil
}

func buildEquityHTML(result *RunResult) ([]byte, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  fmt.Sprintf("%dpx", reportWidthPx),
			Height: fmt.Sprintf("%dpx", reportHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Equity - %s", result.Strategy),
			Subtitle: fmt.Sprintf("return %.2f%% / drawdown %.2f%% / trades %d",
				result.Metrics.TotalReturn, result.Metrics.MaxDrawdown, result.Metrics.TotalTrades),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	xAxis := make([]string, len(result.Equity))
	values := make([]opts.LineData, len(result.Equity))
	for i, pt := range result.Equity {
		xAxis[i] = time.UnixMilli(pt.Timestamp).UTC().Format("2006-01-02")
		values[i] = opts.LineData{Value: pt.Value}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("equity", values,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(line)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
