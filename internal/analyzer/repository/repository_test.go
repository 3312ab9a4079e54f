package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSONBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func TestSecID(t *testing.T) {
	assert.Equal(t, "1.600519", secID("600519"))
	assert.Equal(t, "1.900902", secID("900902"))
	assert.Equal(t, "0.000001", secID("000001"))
	assert.Equal(t, "0.300750", secID("300750"))
	assert.Equal(t, "1.600519", secID("sh600519"))
}

func TestParseKline(t *testing.T) {
	row, ok := parseKline("600519", "2025-06-02,1700.00,1712.50,1720.00,1695.00,32000,5480000000.0,0.74")
	require.True(t, ok)
	assert.Equal(t, "600519", row.Code)
	assert.Equal(t, "2025-06-02", row.TradeDate.Format("2006-01-02"))
	assert.Equal(t, 1700.00, row.Open)
	assert.Equal(t, 1712.50, row.Close)
	assert.Equal(t, 1720.00, row.High)
	assert.Equal(t, 1695.00, row.Low)
	assert.Equal(t, 0.74, row.ChangePct)

	_, ok = parseKline("600519", "2025-06-02,1700.00")
	assert.False(t, ok)
	_, ok = parseKline("600519", "not-a-date,1,2,3,4,5,6,7")
	assert.False(t, ok)
}

func TestMarketDataRepository_GetDailyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "secid=1.600519")
		fmt.Fprint(w, `{"data":{"klines":[
			"2025-06-01,10,11,12,9,1000,99000,1.0",
			"2025-06-02,11,12,13,10,1100,99500,0.5"
		]}}`)
	}))
	defer server.Close()

	repo := NewMarketDataRepository(config.MarketData{
		BaseURL:        server.URL,
		RequestTimeout: 5 * time.Second,
		PrefetchTTL:    time.Minute,
	}, logger.NewNop())

	rows, source, err := repo.GetDailyData(context.Background(), "600519", 30)
	require.NoError(t, err)
	assert.Equal(t, marketDataSource, source)
	require.Len(t, rows, 2)
	assert.Equal(t, 12.0, rows[1].Close)
}

func TestMarketDataRepository_PrefetchServesLaterQuoteLookups(t *testing.T) {
	var quoteCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/qt/ulist.np/get", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"diff":[
			{"f2":171250,"f3":74,"f12":"600519","f14":"贵州茅台"},
			{"f2":1120,"f3":-120,"f12":"000001","f14":"平安银行"}
		]}}`)
	})
	mux.HandleFunc("/api/qt/stock/get", func(w http.ResponseWriter, r *http.Request) {
		quoteCalls++
		fmt.Fprint(w, `{"data":null}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := NewMarketDataRepository(config.MarketData{
		BaseURL:        server.URL,
		EnableRealtime: true,
		RequestTimeout: 5 * time.Second,
		PrefetchTTL:    time.Minute,
	}, logger.NewNop())

	count := repo.PrefetchRealtimeQuotes(context.Background(), []string{"600519", "000001"})
	assert.Equal(t, 2, count)

	quote, err := repo.GetRealtimeQuote(context.Background(), "600519")
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, "贵州茅台", quote.Name)
	assert.Equal(t, 1712.5, quote.Price)
	assert.Equal(t, 0.74, quote.ChangePct)
	// Served from the prefetch cache, no per-stock request.
	assert.Zero(t, quoteCalls)
}

// Both quote endpoints speak the same scaled-integer convention, so a quote
// served out of the prefetch cache must equal one fetched directly.
func TestMarketDataRepository_PrefetchMatchesDirectQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/qt/ulist.np/get", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"diff":[
			{"f2":171250,"f3":74,"f8":150,"f9":3200,"f10":110,"f12":"600519","f14":"贵州茅台","f23":880}
		]}}`)
	})
	mux.HandleFunc("/api/qt/stock/get", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"f43":171250,"f170":74,"f168":150,"f162":3200,"f50":110,"f57":"600519","f58":"贵州茅台","f167":880}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := config.MarketData{
		BaseURL:        server.URL,
		EnableRealtime: true,
		RequestTimeout: 5 * time.Second,
		PrefetchTTL:    time.Minute,
	}

	direct := NewMarketDataRepository(cfg, logger.NewNop())
	want, err := direct.GetRealtimeQuote(context.Background(), "600519")
	require.NoError(t, err)
	require.NotNil(t, want)
	assert.Equal(t, 1712.5, want.Price)

	prefetched := NewMarketDataRepository(cfg, logger.NewNop())
	require.Equal(t, 1, prefetched.PrefetchRealtimeQuotes(context.Background(), []string{"600519"}))
	got, err := prefetched.GetRealtimeQuote(context.Background(), "600519")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.Price, got.Price)
	assert.Equal(t, want.ChangePct, got.ChangePct)
	assert.Equal(t, want.TurnoverRate, got.TurnoverRate)
	assert.Equal(t, want.PERatio, got.PERatio)
	assert.Equal(t, want.PBRatio, got.PBRatio)
	assert.Equal(t, want.VolumeRatio, got.VolumeRatio)
}

func TestMarketDataRepository_ChipCircuitBreaker(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	repo := NewMarketDataRepository(config.MarketData{
		BaseURL:        server.URL,
		EnableChip:     true,
		RequestTimeout: 5 * time.Second,
		PrefetchTTL:    time.Minute,
		ChipFailLimit:  2,
		ChipCooldown:   15 * time.Minute,
	}, logger.NewNop())

	for i := 0; i < 2; i++ {
		_, err := repo.GetChipDistribution(context.Background(), "600519")
		assert.Error(t, err)
	}
	require.Equal(t, 2, calls)

	// Breaker open: soft nil without touching the endpoint.
	chip, err := repo.GetChipDistribution(context.Background(), "600519")
	assert.NoError(t, err)
	assert.Nil(t, chip)
	assert.Equal(t, 2, calls)
}

func TestFinanceDataRepository_RelabelsColumns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("reportName"), "RPT_")
		fmt.Fprint(w, `{"success":true,"result":{"data":[
			{"SECURITY_CODE":"600519","SECURITY_NAME_ABBR":"贵州茅台","PREDICT_FINANCE":"净利润","NOTICE_DATE":"2024-10-15","IGNORED":"x"}
		]}}`)
	}))
	defer server.Close()

	repo := NewFinanceDataRepository(config.Finance{BaseURL: server.URL}, logger.NewNop())

	dataset, err := repo.GetDataset(context.Background(), FinanceReportForecast, "2024-09-30", "600519")
	require.NoError(t, err)
	require.NotNil(t, dataset)
	assert.Equal(t, []string{"股票代码", "股票简称", "预测指标", "业绩变动", "预告类型", "上年同期值", "公告日期"}, dataset.Columns)
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "贵州茅台", dataset.Rows[0]["股票简称"])
	assert.NotContains(t, dataset.Rows[0], "IGNORED")
}

func TestFinanceDataRepository_EmptyResultIsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"result":null}`)
	}))
	defer server.Close()

	repo := NewFinanceDataRepository(config.Finance{BaseURL: server.URL}, logger.NewNop())
	dataset, err := repo.GetDataset(context.Background(), FinanceReportExpress, "2024-12-31", "600519")
	assert.NoError(t, err)
	assert.Nil(t, dataset)
}

func TestSearchRepository_ComprehensiveIntel(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, decodeJSONBody(r, &body))
		queries = append(queries, body.Query)
		fmt.Fprint(w, `{"code":200,"data":{"webPages":{"value":[
			{"name":"标题","url":"https://news/1","snippet":"摘要","siteName":"测试源"}
		]}}}`)
	}))
	defer server.Close()

	repo := NewSearchRepository(config.Search{APIKey: "k", BaseURL: server.URL}, logger.NewNop())
	require.True(t, repo.IsAvailable())

	results, err := repo.SearchComprehensiveIntel(context.Background(), "600519", "贵州茅台", 2)
	require.NoError(t, err)
	// The search budget caps the dimensions queried.
	assert.Len(t, results, 2)
	assert.Len(t, queries, 2)
	assert.Contains(t, queries[0], "贵州茅台")

	report := repo.FormatIntelReport(results, "贵州茅台")
	assert.Contains(t, report, "泛搜索情报（贵州茅台）")
	assert.Contains(t, report, "#### 公司动态")
	assert.Contains(t, report, "https://news/1")
}

func TestSearchRepository_NotConfigured(t *testing.T) {
	repo := NewSearchRepository(config.Search{}, logger.NewNop())
	assert.False(t, repo.IsAvailable())
	_, err := repo.SearchComprehensiveIntel(context.Background(), "600519", "贵州茅台", 5)
	assert.Error(t, err)
}

func TestFormatIntelReport_AllEmptyReturnsEmpty(t *testing.T) {
	repo := NewSearchRepository(config.Search{APIKey: "k", BaseURL: "https://s"}, logger.NewNop())
	out := repo.FormatIntelReport(map[string]*dto.SearchResponse{
		"company_news": {Success: false, Query: "q"},
	}, "贵州茅台")
	assert.Equal(t, "", out)
}

func TestParseVerdict(t *testing.T) {
	fenced := "```json\n{\"operation_advice\":\"持有\",\"sentiment_score\":35,\"trend_prediction\":\"震荡上行\",\"summary\":\"总结\",\"key_reasons\":[\"业绩稳健\"]}\n```"
	verdict, err := parseVerdict(fenced)
	require.NoError(t, err)
	assert.Equal(t, "持有", verdict.OperationAdvice)
	assert.Equal(t, 35, verdict.SentimentScore)
	assert.Equal(t, []string{"业绩稳健"}, verdict.KeyReasons)

	plain, err := parseVerdict(`{"operation_advice":"观望","sentiment_score":-10}`)
	require.NoError(t, err)
	assert.Equal(t, -10, plain.SentimentScore)

	_, err = parseVerdict("这不是 JSON")
	assert.Error(t, err)
}

func TestBuildStockAnalysisPrompt(t *testing.T) {
	enriched := &dto.EnhancedContext{
		AnalysisContext: dto.AnalysisContext{
			Code:      "600519",
			StockName: "贵州茅台",
			Date:      "2025-06-02",
		},
		Realtime: &dto.RealtimeQuote{Price: 1712.5, ChangePct: 0.74, VolumeRatio: 1.1},
		Chip:     &dto.ChipDistribution{ProfitRatio: 0.72, AvgCost: 1650},
	}

	prompt := BuildStockAnalysisPrompt(enriched, "情报正文", dto.ReportTypeFull)
	assert.Contains(t, prompt, "贵州茅台（600519）")
	assert.Contains(t, prompt, "实时行情")
	assert.Contains(t, prompt, "多数获利，持股意愿较强")
	assert.Contains(t, prompt, "多维情报")
	assert.Contains(t, prompt, "完整深度分析")
	assert.Contains(t, prompt, `"operation_advice"`)

	simple := BuildStockAnalysisPrompt(enriched, "", dto.ReportTypeSimple)
	assert.Contains(t, simple, "简明结论")
	assert.NotContains(t, simple, "多维情报")
}

func TestBuildDimensionQuery(t *testing.T) {
	assert.Equal(t, "贵州茅台 600519 最新公告 消息", buildDimensionQuery("%s %s 最新公告 消息", "600519", "贵州茅台"))
	assert.Equal(t, "贵州茅台 业绩 财报 净利润", buildDimensionQuery("%s 业绩 财报 净利润", "600519", "贵州茅台"))
}
