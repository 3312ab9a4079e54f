package dto

import (
	"time"

	"astock-insight/internal/entity"
)

// ReportType selects how much detail a generated report carries.
type ReportType string

const (
	ReportTypeSimple ReportType = "simple"
	ReportTypeFull   ReportType = "full"
)

// ParseReportType maps a config string onto a ReportType, defaulting to simple.
func ParseReportType(s string) ReportType {
	if s == string(ReportTypeFull) {
		return ReportTypeFull
	}
	return ReportTypeSimple
}

// SourceMessage identifies the chat conversation that triggered a run, so
// progress and results can be replied into it.
type SourceMessage struct {
	Platform  string `json:"platform"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ChatID    int64  `json:"chat_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// RunRequest describes one batch analysis run. Immutable for the duration of
// the run.
type RunRequest struct {
	Codes            []string       `json:"codes"`
	ReportType       ReportType     `json:"report_type"`
	QueryID          string         `json:"query_id"`
	QuerySource      string         `json:"query_source"`
	Source           *SourceMessage `json:"source,omitempty"`
	DryRun           bool           `json:"dry_run"`
	ForceRefresh     bool           `json:"force_refresh"`
	SendNotification bool           `json:"send_notification"`
}

// AnalysisResult is the verdict produced for a single stock.
type AnalysisResult struct {
	HistoryID       string    `json:"history_id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	OperationAdvice string    `json:"operation_advice"`
	SentimentScore  int       `json:"sentiment_score"`
	TrendPrediction string    `json:"trend_prediction"`
	Summary         string    `json:"summary"`
	KeyReasons      []string  `json:"key_reasons"`
	CurrentPrice    float64   `json:"current_price"`
	ChangePct       float64   `json:"change_pct"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// RunOutcome aggregates one run: successful results in completion order plus
// counts that always sum to the number of input symbols.
type RunOutcome struct {
	Results      []*AnalysisResult `json:"results"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Elapsed      time.Duration     `json:"elapsed"`
}

// AnalysisContext is the historical view handed to the generative model.
type AnalysisContext struct {
	Code        string              `json:"code"`
	StockName   string              `json:"stock_name"`
	Date        string              `json:"date"`
	DataMissing bool                `json:"data_missing"`
	Rows        []entity.DailyPrice `json:"rows,omitempty"`
	Today       *entity.DailyPrice  `json:"today,omitempty"`
	Yesterday   *entity.DailyPrice  `json:"yesterday,omitempty"`
}

// EnhancedContext is an AnalysisContext plus the best-effort realtime
// overlays. Owned by exactly one in-flight task, never shared.
type EnhancedContext struct {
	AnalysisContext
	Realtime *RealtimeQuote    `json:"realtime,omitempty"`
	Chip     *ChipDistribution `json:"chip,omitempty"`
	Trend    *TrendAnalysis    `json:"trend_analysis,omitempty"`
}

// ContextSnapshot is the optional full audit snapshot stored alongside an
// analysis history row for replay.
type ContextSnapshot struct {
	EnhancedContext *EnhancedContext  `json:"enhanced_context"`
	IntelText       string            `json:"intel_text"`
	RealtimeRaw     *RealtimeQuote    `json:"realtime_quote_raw,omitempty"`
	ChipRaw         *ChipDistribution `json:"chip_distribution_raw,omitempty"`
}

// TrendAnalysis is the moving-average trend readout used to enrich a context.
type TrendAnalysis struct {
	TrendStatus   string   `json:"trend_status"`
	MAAlignment   bool     `json:"ma_alignment"`
	MA5           float64  `json:"ma5"`
	MA10          float64  `json:"ma10"`
	MA20          float64  `json:"ma20"`
	BiasMA5       float64  `json:"bias_ma5"`
	BiasMA10      float64  `json:"bias_ma10"`
	VolumeStatus  string   `json:"volume_status"`
	BuySignal     string   `json:"buy_signal"`
	SignalScore   int      `json:"signal_score"`
	SignalReasons []string `json:"signal_reasons"`
	RiskFactors   []string `json:"risk_factors"`
}
