package repository

import (
	"fmt"
	"strings"

	"astock-insight/internal/analyzer/dto"
)

// BuildStockAnalysisPrompt renders the enriched technical context plus the
// intel text into one analysis prompt. The model answers in JSON.
func BuildStockAnalysisPrompt(enriched *dto.EnhancedContext, intelText string, reportType dto.ReportType) string {
	var contextBuilder strings.Builder

	contextBuilder.WriteString(fmt.Sprintf("股票: %s（%s）  分析日期: %s\n", enriched.StockName, enriched.Code, enriched.Date))

	if enriched.DataMissing {
		contextBuilder.WriteString("注意: 无历史行情数据，请仅基于实时行情与情报分析。\n")
	}

	if enriched.Today != nil {
		t := enriched.Today
		contextBuilder.WriteString(fmt.Sprintf(
			"今日行情: 收盘=%.2f 开盘=%.2f 最高=%.2f 最低=%.2f 涨跌幅=%.2f%% 成交量=%.0f\n",
			t.Close, t.Open, t.High, t.Low, t.ChangePct, t.Volume,
		))
	}
	if enriched.Yesterday != nil {
		contextBuilder.WriteString(fmt.Sprintf("昨日收盘: %.2f（涨跌幅 %.2f%%）\n", enriched.Yesterday.Close, enriched.Yesterday.ChangePct))
	}

	if rows := enriched.Rows; len(rows) > 1 {
		contextBuilder.WriteString("\n近10日行情（日期 / 收盘 / 涨跌幅 / 成交量）:\n")
		start := len(rows) - 10
		if start < 0 {
			start = 0
		}
		for _, row := range rows[start:] {
			contextBuilder.WriteString(fmt.Sprintf("%s  %.2f  %.2f%%  %.0f\n",
				row.TradeDate.Format("2006-01-02"), row.Close, row.ChangePct, row.Volume))
		}
	}

	if q := enriched.Realtime; q != nil {
		contextBuilder.WriteString(fmt.Sprintf(
			"\n实时行情: 价格=%.2f 涨跌幅=%.2f%% 量比=%.2f 换手率=%.2f%% 市盈率=%.2f 市净率=%.2f\n",
			q.Price, q.ChangePct, q.VolumeRatio, q.TurnoverRate, q.PERatio, q.PBRatio,
		))
	}

	if c := enriched.Chip; c != nil {
		price := 0.0
		if enriched.Realtime != nil {
			price = enriched.Realtime.Price
		}
		contextBuilder.WriteString(fmt.Sprintf(
			"筹码分布: 获利比例=%.1f%% 平均成本=%.2f 90%%集中度=%.2f（%s）\n",
			c.ProfitRatio*100, c.AvgCost, c.Concentration90, c.ChipStatus(price),
		))
	}

	if tr := enriched.Trend; tr != nil {
		contextBuilder.WriteString(fmt.Sprintf(
			"趋势分析: 状态=%s MA5=%.2f MA10=%.2f MA20=%.2f 乖离率(MA5)=%.2f%% 量能=%s 买入信号=%s（评分 %d）\n",
			tr.TrendStatus, tr.MA5, tr.MA10, tr.MA20, tr.BiasMA5, tr.VolumeStatus, tr.BuySignal, tr.SignalScore,
		))
		if len(tr.SignalReasons) > 0 {
			contextBuilder.WriteString("信号依据: " + strings.Join(tr.SignalReasons, "；") + "\n")
		}
		if len(tr.RiskFactors) > 0 {
			contextBuilder.WriteString("风险因素: " + strings.Join(tr.RiskFactors, "；") + "\n")
		}
	}

	if intelText != "" {
		contextBuilder.WriteString("\n== 多维情报 ==\n")
		contextBuilder.WriteString(intelText)
		contextBuilder.WriteString("\n")
	}

	depth := "请给出简明结论，总结控制在两段以内。"
	if reportType == dto.ReportTypeFull {
		depth = "请给出完整深度分析，覆盖技术面、资金面、基本面与情绪面。"
	}

	promptTemplate := `你是一名专业的 A 股分析师。请基于以下上下文对该股票进行综合分析。%s

%s
请严格按以下 JSON 格式输出（不要输出任何其他内容）:

{
  "operation_advice": "买入 | 持有 | 观望 | 减仓 | 卖出",
  "sentiment_score": {-100 到 100 的整数，负值偏空},
  "trend_prediction": "{对后市 1-2 周走势的一句话判断}",
  "summary": "{中文总结}",
  "key_reasons": ["{支撑结论的关键理由}"]
}`

	return fmt.Sprintf(promptTemplate, depth, contextBuilder.String())
}
