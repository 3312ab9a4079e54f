package notify

import (
	"fmt"
	"strings"
	"testing"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	s, ok := NewService(Config{}, logger.NewNop()).(*service)
	require.True(t, ok)
	return s
}

func sampleResults() []*dto.AnalysisResult {
	return []*dto.AnalysisResult{
		{
			Code: "600519", Name: "贵州茅台",
			OperationAdvice: "持有", SentimentScore: 35,
			TrendPrediction: "震荡上行", Summary: "基本面稳健",
			KeyReasons:   []string{"业绩稳定", "估值合理"},
			CurrentPrice: 1712.5, ChangePct: 0.74,
		},
		{
			Code: "300750", Name: "宁德时代",
			OperationAdvice: "买入", SentimentScore: 62,
			TrendPrediction: "强势突破",
			CurrentPrice:    195.3, ChangePct: 2.1,
		},
		{
			Code: "000001", Name: "平安银行",
			OperationAdvice: "减仓", SentimentScore: -20,
		},
	}
}

func TestGenerateDashboardReport(t *testing.T) {
	s := newTestService(t)
	report := s.GenerateDashboardReport(sampleResults())

	assert.Contains(t, report, "自选股决策仪表盘")
	assert.Contains(t, report, "共分析 3 只股票")
	// Ordered by sentiment score descending.
	posBuy := strings.Index(report, "宁德时代")
	posHold := strings.Index(report, "贵州茅台")
	posSell := strings.Index(report, "平安银行")
	assert.Less(t, posBuy, posHold)
	assert.Less(t, posHold, posSell)

	assert.Contains(t, report, "🟢 宁德时代（300750）")
	assert.Contains(t, report, "🔴 平安银行（000001）")
	assert.Contains(t, report, "- 现价: 1712.50（+0.74%）")
	assert.Contains(t, report, "  - 业绩稳定")
	// No price line when the price is unknown.
	assert.NotContains(t, report, "现价: 0.00")
}

func TestGenerateSingleStockReport(t *testing.T) {
	s := newTestService(t)
	report := s.GenerateSingleStockReport(sampleResults()[0])

	assert.Contains(t, report, "🟡 **贵州茅台（600519）**")
	assert.Contains(t, report, "操作建议: 持有（评分 +35）")
	assert.Contains(t, report, "基本面稳健")
}

func TestGenerateWecomDashboard_StaysUnderCap(t *testing.T) {
	s := newTestService(t)

	var results []*dto.AnalysisResult
	for i := 0; i < 300; i++ {
		results = append(results, &dto.AnalysisResult{
			Code: fmt.Sprintf("60%04d", i), Name: "某长名字股份公司",
			OperationAdvice: "观望", SentimentScore: i % 100,
			CurrentPrice: 12.34, ChangePct: -0.5,
		})
	}

	dashboard := s.GenerateWecomDashboard(results)
	assert.LessOrEqual(t, len(dashboard), wecomMarkdownLimit)
	assert.Contains(t, dashboard, "其余")
}

func TestGenerateWecomDashboard_FoldCountsUnrenderedStocks(t *testing.T) {
	s := newTestService(t)

	// Lines long enough that exactly two fit under the cap.
	var results []*dto.AnalysisResult
	for i := 0; i < 3; i++ {
		results = append(results, &dto.AnalysisResult{
			Code: fmt.Sprintf("60%04d", i), Name: strings.Repeat("长", 600),
			OperationAdvice: "观望", SentimentScore: 50 - i,
		})
	}

	dashboard := s.GenerateWecomDashboard(results)
	assert.Contains(t, dashboard, "600000")
	assert.Contains(t, dashboard, "600001")
	assert.NotContains(t, dashboard, "600002")
	assert.Contains(t, dashboard, "其余 1 只")
}

func TestGenerateWecomDashboard_SmallBatchKeepsAll(t *testing.T) {
	s := newTestService(t)
	dashboard := s.GenerateWecomDashboard(sampleResults())

	assert.Contains(t, dashboard, "贵州茅台(600519)")
	assert.Contains(t, dashboard, "宁德时代(300750)")
	assert.Contains(t, dashboard, "平安银行(000001)")
	assert.NotContains(t, dashboard, "其余")
}

func TestTruncateBytesUTF8_NeverSplitsRune(t *testing.T) {
	s := strings.Repeat("报", 100)
	out := truncateBytesUTF8(s, 10)
	assert.LessOrEqual(t, len(out), 10)
	// 3-byte runes: 10 bytes truncates to 9.
	assert.Equal(t, 9, len(out))
	assert.Equal(t, strings.Repeat("报", 3), out)
}

func TestAvailableChannels(t *testing.T) {
	s, _ := NewService(Config{
		WecomWebhookURL:  "https://wecom.example/hook",
		CustomWebhookURL: "https://custom.example/hook",
	}, logger.NewNop()).(*service)

	channels := s.AvailableChannels()
	assert.Equal(t, []Channel{ChannelWecom, ChannelCustom}, channels)
	assert.True(t, s.IsAvailable())

	empty := newTestService(t)
	assert.False(t, empty.IsAvailable())
	assert.False(t, empty.SendToContext("hi"))
	assert.False(t, empty.Send("hi"))
}

func TestForRequest_BindsContext(t *testing.T) {
	base := newTestService(t)
	bound := base.ForRequest(&dto.SourceMessage{Platform: "telegram", ChatID: 42})

	// Original stays unbound.
	assert.False(t, base.SendToContext("hi"))
	// The bound copy still lacks a telegram client, so delivery fails, but
	// it must not panic and must consult the source.
	assert.False(t, bound.SendToContext("hi"))
}
