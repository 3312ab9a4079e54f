package intel

import (
	"context"
	"errors"
	"testing"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/repository"
	"astock-insight/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFinanceRepo struct {
	datasets map[string]*dto.FinanceDataset // keyed by reportName + "|" + quarterDate
	err      error
	calls    []string
}

func (f *fakeFinanceRepo) GetDataset(_ context.Context, reportName, quarterDate, _ string) (*dto.FinanceDataset, error) {
	f.calls = append(f.calls, reportName+"|"+quarterDate)
	if f.err != nil {
		return nil, f.err
	}
	return f.datasets[reportName+"|"+quarterDate], nil
}

func newTestFinanceService(repo repository.FinanceDataRepository, maxQuarters int) *FinanceIntelService {
	svc := NewFinanceIntelService(config.Finance{Enabled: true, MaxQuarters: maxQuarters}, logger.NewNop(), repo)
	svc.now = func() time.Time { return time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestRecentQuarterDates(t *testing.T) {
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	dates := recentQuarterDates(now, 2)
	assert.Equal(t, []string{"2024-12-31", "2024-09-30"}, dates)

	dates = recentQuarterDates(now, 6)
	assert.Equal(t, []string{
		"2024-12-31", "2024-09-30", "2024-06-30", "2024-03-31",
		"2023-12-31", "2023-09-30",
	}, dates)

	// Mid-year: the current year's elapsed quarters come first.
	dates = recentQuarterDates(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), 3)
	assert.Equal(t, []string{"2025-06-30", "2025-03-31", "2024-12-31"}, dates)

	// A quarter-end day itself counts as elapsed.
	dates = recentQuarterDates(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), 1)
	assert.Equal(t, []string{"2025-03-31"}, dates)
}

func TestBuildFinanceContext_NonAShareCodeSkips(t *testing.T) {
	svc := newTestFinanceService(&fakeFinanceRepo{}, 6)
	out := svc.BuildFinanceContext(context.Background(), "HK00700", "腾讯控股")
	assert.Contains(t, out, "当前仅支持 A 股代码")
	assert.Contains(t, out, "HK00700")
}

func TestBuildFinanceContext_WalksQuartersUntilHit(t *testing.T) {
	repo := &fakeFinanceRepo{
		datasets: map[string]*dto.FinanceDataset{
			repository.FinanceReportForecast + "|2024-09-30": {
				Columns: []string{"股票代码", "股票简称", "预测指标", "公告日期"},
				Rows: []map[string]any{
					{"股票代码": "600519", "股票简称": "贵州茅台", "预测指标": "净利润", "公告日期": "2024-10-15"},
				},
			},
		},
	}
	svc := newTestFinanceService(repo, 4)

	out := svc.BuildFinanceContext(context.Background(), "600519", "贵州茅台")

	assert.Contains(t, out, "#### 业绩预告")
	assert.Contains(t, out, "- 数据期: 2024-09-30")
	assert.Contains(t, out, "股票代码=600519")
	// Forecast walked 2024-12-31 (miss) then 2024-09-30 (hit) and stopped.
	assert.Contains(t, repo.calls, repository.FinanceReportForecast+"|2024-12-31")
	assert.Contains(t, repo.calls, repository.FinanceReportForecast+"|2024-09-30")
	assert.NotContains(t, repo.calls, repository.FinanceReportForecast+"|2024-06-30")
	// Empty datasets still render their sections with the no-record line.
	assert.Contains(t, out, "#### 业绩快报")
	assert.Contains(t, out, "- 未检索到结构化记录")
}

func TestBuildFinanceContext_AllFailuresStillRenders(t *testing.T) {
	svc := newTestFinanceService(&fakeFinanceRepo{err: errors.New("upstream down")}, 2)

	out := svc.BuildFinanceContext(context.Background(), "600519", "贵州茅台")
	assert.Contains(t, out, "### 📊 财务公告（结构化）")
	assert.Contains(t, out, "- 未检索到结构化记录")
	assert.Contains(t, out, "官方披露入口")
}

func TestFilterRowsByCode(t *testing.T) {
	dataset := &dto.FinanceDataset{
		Columns: []string{"SECURITY_CODE", "值"},
		Rows: []map[string]any{
			{"SECURITY_CODE": "600519.SH", "值": 1.0},
			{"SECURITY_CODE": "000001", "值": 2.0},
			{"SECURITY_CODE": "600519", "值": 3.0},
			{"SECURITY_CODE": "600519", "值": 4.0},
			{"SECURITY_CODE": "600519", "值": 5.0},
		},
	}

	hit := filterRowsByCode(dataset, "600519")
	require.NotNil(t, hit)
	// Suffix-normalized codes match and rows cap at three.
	assert.Len(t, hit.Rows, 3)
	assert.Equal(t, 1.0, hit.Rows[0]["值"])
	assert.Equal(t, 4.0, hit.Rows[2]["值"])

	assert.Nil(t, filterRowsByCode(dataset, "300750"))
	assert.Nil(t, filterRowsByCode(&dto.FinanceDataset{Columns: []string{"无代码列"}}, "600519"))
}

func TestCellToText_NoTruncation(t *testing.T) {
	assert.Equal(t, "12345678901.2345", cellToText(12345678901.2345))
	assert.Equal(t, "3", cellToText(3.0))
	assert.Equal(t, "-0.0523", cellToText(-0.0523))
	assert.Equal(t, "", cellToText(nil))
	assert.Equal(t, "预增", cellToText("预增"))
}

func TestToMarkdownTable(t *testing.T) {
	out := toMarkdownTable(
		[]string{"股票代码", "备注"},
		[]map[string]any{{"股票代码": "600519", "备注": "含|竖线\n换行"}},
	)
	assert.Equal(t,
		"| 股票代码 | 备注 |\n| --- | --- |\n| 600519 | 含\\|竖线 换行 |",
		out,
	)
}

func TestSelectColumns(t *testing.T) {
	columns := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}

	// Preferred order wins over source order.
	assert.Equal(t, []string{"d", "b"}, selectColumns(columns, []string{"d", "x", "b"}))
	// No preferred match: first ten source columns.
	assert.Equal(t, columns[:10], selectColumns(columns, []string{"nope"}))
}

func TestOfficialReferenceLinks(t *testing.T) {
	sse := officialReferenceLinks("600519")
	assert.Contains(t, sse[1], "cninfo.com.cn")
	assert.Contains(t, sse[2], "sse.com.cn")

	szse := officialReferenceLinks("300750")
	assert.Contains(t, szse[2], "szse.cn")

	// Other prefixes only get the cninfo entry.
	bj := officialReferenceLinks("830799")
	assert.Len(t, bj, 2)

	assert.Nil(t, officialReferenceLinks(""))
}
