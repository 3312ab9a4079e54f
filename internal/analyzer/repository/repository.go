package repository

import (
	"context"
	"time"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/entity"
)

// Dataset names on the disclosure datacenter endpoint.
const (
	FinanceReportForecast   = "RPT_PUBLIC_OP_NEWPREDICT"
	FinanceReportExpress    = "RPT_FCI_PERFORMANCEE"
	FinanceReportPeriodical = "RPT_LICO_FN_CPD"
)

// AIRepository produces the generative verdict for one enriched context.
type AIRepository interface {
	Analyze(ctx context.Context, enriched *dto.EnhancedContext, intelText string, reportType dto.ReportType) (*dto.AnalysisResult, error)
}

// MarketDataRepository is the external data-source contract. Quote and chip
// lookups fail softly: a nil result with nil error means "not available now".
type MarketDataRepository interface {
	GetDailyData(ctx context.Context, code string, days int) ([]entity.DailyPrice, string, error)
	GetRealtimeQuote(ctx context.Context, code string) (*dto.RealtimeQuote, error)
	GetChipDistribution(ctx context.Context, code string) (*dto.ChipDistribution, error)
	PrefetchRealtimeQuotes(ctx context.Context, codes []string) int
}

// FinanceDataRepository fetches one structured disclosure dataset for a
// quarter-end date (YYYY-MM-DD), scoped to one stock where the upstream
// supports filtering.
type FinanceDataRepository interface {
	GetDataset(ctx context.Context, reportName, quarterDate, code string) (*dto.FinanceDataset, error)
}

// SearchRepository is the generic web-search fallback used when all
// structured intel sources come back empty.
type SearchRepository interface {
	IsAvailable() bool
	SearchComprehensiveIntel(ctx context.Context, code, name string, maxSearches int) (map[string]*dto.SearchResponse, error)
	FormatIntelReport(results map[string]*dto.SearchResponse, name string) string
}

// DailyPriceRepository persists and reads back daily OHLCV rows.
type DailyPriceRepository interface {
	HasTodayData(ctx context.Context, code string, date time.Time) (bool, error)
	SaveDailyData(ctx context.Context, rows []entity.DailyPrice, code, source string) (int, error)
	GetAnalysisContext(ctx context.Context, code string, days int) (*dto.AnalysisContext, error)
}

// AnalysisHistoryRepository persists per-stock analysis verdicts.
type AnalysisHistoryRepository interface {
	Save(ctx context.Context, history *entity.AnalysisHistory) error
	FindLatestByCode(ctx context.Context, code string) (*entity.AnalysisHistory, error)
	FindByQueryID(ctx context.Context, queryID string) ([]entity.AnalysisHistory, error)
}

// NewsIntelRepository records search-fallback responses for audit.
type NewsIntelRepository interface {
	Save(ctx context.Context, intel *entity.NewsIntel) error
}
