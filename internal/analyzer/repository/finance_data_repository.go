package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/utils"
)

// columnMap translates upstream field keys to the Chinese column names the
// disclosure tables use; order here is the rendered column order.
type columnMap struct {
	key   string
	label string
}

var financeColumnMaps = map[string][]columnMap{
	FinanceReportForecast: {
		{"SECURITY_CODE", "股票代码"},
		{"SECURITY_NAME_ABBR", "股票简称"},
		{"PREDICT_FINANCE", "预测指标"},
		{"PREDICT_CONTENT", "业绩变动"},
		{"PREDICT_TYPE", "预告类型"},
		{"PREYEAR_SAME_PERIOD", "上年同期值"},
		{"NOTICE_DATE", "公告日期"},
	},
	FinanceReportExpress: {
		{"SECURITY_CODE", "股票代码"},
		{"SECURITY_NAME_ABBR", "股票简称"},
		{"TOTAL_OPERATE_INCOME", "营业收入"},
		{"PARENT_NETPROFIT", "净利润"},
		{"BASIC_EPS", "每股收益"},
		{"WEIGHTAVG_ROE", "净资产收益率"},
		{"NOTICE_DATE", "公告日期"},
	},
	FinanceReportPeriodical: {
		{"SECURITY_CODE", "股票代码"},
		{"SECURITY_NAME_ABBR", "股票简称"},
		{"TOTAL_OPERATE_INCOME", "营业收入"},
		{"YSTZ", "营业收入同比增长"},
		{"PARENT_NETPROFIT", "净利润"},
		{"SJLTZ", "净利润同比增长"},
		{"BASIC_EPS", "每股收益"},
		{"NOTICE_DATE", "公告日期"},
	},
}

type financeDataRepository struct {
	cfg        config.Finance
	log        *logger.Logger
	httpClient *http.Client
}

// NewFinanceDataRepository creates the disclosure datacenter client.
func NewFinanceDataRepository(cfg config.Finance, log *logger.Logger) FinanceDataRepository {
	return &financeDataRepository{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: 12 * time.Second},
	}
}

func (r *financeDataRepository) GetDataset(ctx context.Context, reportName, quarterDate, code string) (*dto.FinanceDataset, error) {
	filter := fmt.Sprintf(`(REPORTDATE='%s')(SECURITY_CODE="%s")`, quarterDate, utils.NormalizeStockCode(code))
	reqURL := fmt.Sprintf("%s/api/data/v1/get?reportName=%s&columns=ALL&pageSize=50&pageNumber=1&filter=%s",
		strings.TrimRight(r.cfg.BaseURL, "/"),
		url.QueryEscape(reportName),
		url.QueryEscape(filter),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset %s: %w", reportName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dataset %s returned HTTP %d", reportName, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset body: %w", err)
	}

	var payload struct {
		Success bool `json:"success"`
		Result  *struct {
			Data []map[string]any `json:"data"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", reportName, err)
	}
	if !payload.Success || payload.Result == nil || len(payload.Result.Data) == 0 {
		return nil, nil
	}

	dataset := relabelDataset(reportName, payload.Result.Data)
	r.log.DebugContext(ctx, "Finance dataset fetched",
		logger.StringField("report", reportName),
		logger.StringField("date", quarterDate),
		logger.IntField("rows", len(dataset.Rows)),
	)
	return dataset, nil
}

// relabelDataset keeps only the mapped columns, renamed to their Chinese
// labels, preserving the map's declared order.
func relabelDataset(reportName string, data []map[string]any) *dto.FinanceDataset {
	mapping, ok := financeColumnMaps[reportName]
	if !ok {
		// Unknown report: pass raw keys through from the first row.
		var columns []string
		for key := range data[0] {
			columns = append(columns, key)
		}
		return &dto.FinanceDataset{Columns: columns, Rows: data}
	}

	columns := make([]string, 0, len(mapping))
	for _, m := range mapping {
		columns = append(columns, m.label)
	}

	rows := make([]map[string]any, 0, len(data))
	for _, raw := range data {
		row := make(map[string]any, len(mapping))
		for _, m := range mapping {
			row[m.label] = raw[m.key]
		}
		rows = append(rows, row)
	}
	return &dto.FinanceDataset{Columns: columns, Rows: rows}
}
