package notify

import (
	"fmt"
	"sort"
	"strings"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/utils"
)

func adviceEmoji(advice string) string {
	switch {
	case strings.Contains(advice, "买入"):
		return "🟢"
	case strings.Contains(advice, "卖出"), strings.Contains(advice, "减仓"):
		return "🔴"
	case strings.Contains(advice, "持有"):
		return "🟡"
	default:
		return "⚪"
	}
}

// sortByScore orders results by sentiment score descending, stable for ties.
func sortByScore(results []*dto.AnalysisResult) []*dto.AnalysisResult {
	sorted := make([]*dto.AnalysisResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SentimentScore > sorted[j].SentimentScore
	})
	return sorted
}

// GenerateDashboardReport renders the full multi-stock decision dashboard.
func (s *service) GenerateDashboardReport(results []*dto.AnalysisResult) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# 📊 自选股决策仪表盘（%s）\n\n", utils.TimeNowCST().Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("共分析 %d 只股票\n", len(results)))

	for _, result := range sortByScore(results) {
		b.WriteString(fmt.Sprintf("\n## %s %s（%s）\n", adviceEmoji(result.OperationAdvice), result.Name, result.Code))
		b.WriteString(fmt.Sprintf("- 操作建议: **%s**（情绪评分 %+d）\n", result.OperationAdvice, result.SentimentScore))
		if result.CurrentPrice > 0 {
			b.WriteString(fmt.Sprintf("- 现价: %.2f（%+.2f%%）\n", result.CurrentPrice, result.ChangePct))
		}
		if result.TrendPrediction != "" {
			b.WriteString(fmt.Sprintf("- 走势判断: %s\n", result.TrendPrediction))
		}
		if result.Summary != "" {
			b.WriteString(fmt.Sprintf("- 总结: %s\n", result.Summary))
		}
		for _, reason := range result.KeyReasons {
			b.WriteString(fmt.Sprintf("  - %s\n", reason))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// GenerateSingleStockReport renders the compact per-stock push message.
func (s *service) GenerateSingleStockReport(result *dto.AnalysisResult) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s **%s（%s）**\n", adviceEmoji(result.OperationAdvice), result.Name, result.Code))
	b.WriteString(fmt.Sprintf("操作建议: %s（评分 %+d）\n", result.OperationAdvice, result.SentimentScore))
	if result.CurrentPrice > 0 {
		b.WriteString(fmt.Sprintf("现价: %.2f（%+.2f%%）\n", result.CurrentPrice, result.ChangePct))
	}
	if result.TrendPrediction != "" {
		b.WriteString(fmt.Sprintf("走势: %s\n", result.TrendPrediction))
	}
	if result.Summary != "" {
		b.WriteString(result.Summary + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// GenerateWecomDashboard renders the length-constrained dashboard for the
// wecom markdown cap: one line per stock, detail dropped before stocks are.
func (s *service) GenerateWecomDashboard(results []*dto.AnalysisResult) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("## 📊 自选股日报（%s）\n", utils.TimeNowCST().Format("01-02")))

	for rendered, result := range sortByScore(results) {
		line := fmt.Sprintf("%s %s(%s) %s %+d",
			adviceEmoji(result.OperationAdvice), result.Name, result.Code,
			result.OperationAdvice, result.SentimentScore)
		if result.CurrentPrice > 0 {
			line += fmt.Sprintf(" | %.2f %+.2f%%", result.CurrentPrice, result.ChangePct)
		}

		// Stop before breaching the cap; remaining stocks fold into a count.
		if b.Len()+len(line)+64 > wecomMarkdownLimit {
			b.WriteString(fmt.Sprintf("\n……其余 %d 只见完整日报", len(results)-rendered))
			break
		}
		b.WriteString("\n" + line)
	}

	b.WriteString("\n\n完整分析见仪表盘日报文件")
	return b.String()
}
