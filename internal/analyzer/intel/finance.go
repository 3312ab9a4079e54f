package intel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/repository"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/utils"
)

// financeSection pairs a disclosure dataset with its preferred column order.
type financeSection struct {
	title      string
	reportName string
	preferred  []string
}

var financeSections = []financeSection{
	{
		title:      "业绩预告",
		reportName: repository.FinanceReportForecast,
		preferred:  []string{"股票代码", "股票简称", "预测指标", "业绩变动", "预告类型", "上年同期值", "公告日期"},
	},
	{
		title:      "业绩快报",
		reportName: repository.FinanceReportExpress,
		preferred:  []string{"股票代码", "股票简称", "营业收入", "净利润", "每股收益", "净资产收益率", "公告日期"},
	},
	{
		title:      "业绩报表",
		reportName: repository.FinanceReportPeriodical,
		preferred:  []string{"股票代码", "股票简称", "营业收入", "营业收入同比增长", "净利润", "净利润同比增长", "每股收益", "公告日期"},
	},
}

// FinanceIntelService builds the structured financial-disclosure context block
// from the latest quarter that actually has records for the stock.
type FinanceIntelService struct {
	cfg     config.Finance
	logger  *logger.Logger
	finance repository.FinanceDataRepository

	now func() time.Time
}

func NewFinanceIntelService(cfg config.Finance, log *logger.Logger, finance repository.FinanceDataRepository) *FinanceIntelService {
	return &FinanceIntelService{
		cfg:     cfg,
		logger:  log,
		finance: finance,
		now:     utils.TimeNowCST,
	}
}

// BuildFinanceContext renders the disclosure block for one stock. Numbers are
// never truncated: floats render with %.15g so the model sees exact values.
func (s *FinanceIntelService) BuildFinanceContext(ctx context.Context, code, name string) string {
	if !s.cfg.Enabled {
		return ""
	}

	if !isAShareCode(code) {
		return fmt.Sprintf("### 📊 财务公告（结构化）\n- 当前仅支持 A 股代码，%s 跳过结构化财务抓取。", code)
	}

	lines := []string{"### 📊 财务公告（结构化）"}
	for _, section := range financeSections {
		dataset, asOf := s.fetchLatestByDates(ctx, section.reportName, code)
		lines = append(lines, s.renderSection(section.title, dataset, asOf, section.preferred)...)
	}
	lines = append(lines, officialReferenceLinks(code)...)

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isAShareCode(code string) bool {
	code = strings.TrimSpace(code)
	return len(code) == 6 && isDigits(code)
}

// fetchLatestByDates walks recent quarter-end dates newest first and returns
// the first dataset with rows matching the stock, capped at three rows.
func (s *FinanceIntelService) fetchLatestByDates(ctx context.Context, reportName, code string) (*dto.FinanceDataset, string) {
	target := utils.NormalizeStockCode(code)

	for _, quarterDate := range recentQuarterDates(s.now(), s.cfg.MaxQuarters) {
		dataset, err := s.finance.GetDataset(ctx, reportName, quarterDate, code)
		if err != nil {
			s.logger.Debug("Finance dataset fetch failed",
				logger.StringField("report", reportName),
				logger.StringField("date", quarterDate),
				logger.ErrorField(err),
			)
			continue
		}
		if dataset == nil || dataset.Empty() {
			continue
		}

		hit := filterRowsByCode(dataset, target)
		if hit == nil || hit.Empty() {
			continue
		}

		s.logger.Info("Finance dataset hit",
			logger.StringField("report", reportName),
			logger.StringField("code", code),
			logger.StringField("date", quarterDate),
			logger.IntField("rows", len(hit.Rows)),
		)
		return hit, quarterDate
	}

	return nil, ""
}

var quarterEnds = [][2]int{{3, 31}, {6, 30}, {9, 30}, {12, 31}}

// recentQuarterDates returns the latest limit quarter-end dates (YYYY-MM-DD),
// newest first, never in the future.
func recentQuarterDates(now time.Time, limit int) []string {
	if limit < 1 {
		limit = 1
	}

	dates := make([]string, 0, limit)
	for year := now.Year(); len(dates) < limit; year-- {
		for i := len(quarterEnds) - 1; i >= 0; i-- {
			m, d := quarterEnds[i][0], quarterEnds[i][1]
			dt := time.Date(year, time.Month(m), d, 0, 0, 0, 0, now.Location())
			if !dt.After(now) {
				dates = append(dates, dt.Format("2006-01-02"))
			}
			if len(dates) >= limit {
				break
			}
		}
	}
	return dates
}

var financeCodeColumns = []string{
	"股票代码", "代码", "证券代码", "symbol", "code", "SECUCODE", "SECURITY_CODE",
}

// filterRowsByCode keeps rows whose code column matches the normalized target,
// capped at three rows. The dataset from upstream may be loosely filtered.
func filterRowsByCode(dataset *dto.FinanceDataset, target string) *dto.FinanceDataset {
	var codeCol string
	for _, col := range financeCodeColumns {
		if utils.ContainsString(dataset.Columns, col) {
			codeCol = col
			break
		}
	}
	if codeCol == "" {
		return nil
	}

	var rows []map[string]any
	for _, row := range dataset.Rows {
		if utils.NormalizeStockCode(cellToText(row[codeCol])) == target {
			rows = append(rows, row)
			if len(rows) >= 3 {
				break
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &dto.FinanceDataset{Columns: dataset.Columns, Rows: rows}
}

func (s *FinanceIntelService) renderSection(title string, dataset *dto.FinanceDataset, asOf string, preferred []string) []string {
	lines := []string{fmt.Sprintf("\n#### %s", title)}
	if asOf != "" {
		lines = append(lines, fmt.Sprintf("- 数据期: %s", asOf))
	}

	if dataset == nil || dataset.Empty() {
		lines = append(lines, "- 未检索到结构化记录")
		return lines
	}

	headers := selectColumns(dataset.Columns, preferred)

	// Compact key=value view of the first row, joined with the full-width
	// separator so the model can quote exact figures without table parsing.
	kvs := make([]string, 0, len(headers))
	for _, h := range headers {
		kvs = append(kvs, fmt.Sprintf("%s=%s", h, cellToText(dataset.Rows[0][h])))
	}
	lines = append(lines, fmt.Sprintf("- 关键值: %s", strings.Join(kvs, "；")))
	lines = append(lines, toMarkdownTable(headers, dataset.Rows))
	return lines
}

// selectColumns keeps the preferred columns that exist, in preferred order;
// when none match it falls back to the first ten source columns.
func selectColumns(columns, preferred []string) []string {
	var selected []string
	for _, col := range preferred {
		if utils.ContainsString(columns, col) {
			selected = append(selected, col)
		}
	}
	if len(selected) == 0 {
		selected = columns
		if len(selected) > 10 {
			selected = selected[:10]
		}
	}
	return selected
}

// cellToText renders a cell without lossy truncation. Floats use %.15g so
// large disclosure figures never collapse into scientific shorthand.
func cellToText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.15g", v)
	case float32:
		return fmt.Sprintf("%.15g", float64(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toMarkdownTable(headers []string, rows []map[string]any) string {
	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, "| "+strings.Join(headers, " | ")+" |")

	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")

	for _, row := range rows {
		cells := make([]string, 0, len(headers))
		for _, h := range headers {
			cells = append(cells, escapeMarkdownCell(cellToText(row[h])))
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

func escapeMarkdownCell(text string) string {
	text = strings.ReplaceAll(text, "|", "\\|")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text)
}

// officialReferenceLinks appends the official disclosure portals so generated
// reports can cite verifiable sources. Exchange portal picked by code prefix.
func officialReferenceLinks(code string) []string {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}

	lines := []string{
		"\n#### 官方披露入口（请优先引用）",
		fmt.Sprintf("- 巨潮资讯（官方公告检索）: https://www.cninfo.com.cn/new/fulltextSearch?keyWord=%s", url.QueryEscape(code)),
	}

	switch {
	case strings.HasPrefix(code, "6"):
		lines = append(lines, "- 上交所公告入口: https://www.sse.com.cn/disclosure/listedinfo/announcement/")
	case strings.HasPrefix(code, "0"), strings.HasPrefix(code, "2"), strings.HasPrefix(code, "3"):
		lines = append(lines, "- 深交所公告入口: https://www.szse.cn/disclosure/listed/")
	}
	return lines
}
