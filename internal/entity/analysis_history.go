package entity

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// AnalysisHistory is one persisted analysis verdict for a single stock. Each
// row carries its own unique identifier, distinct from the batch-level query
// id, so every stock of a run is independently addressable.
type AnalysisHistory struct {
	ID              string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Code            string         `gorm:"not null;index" json:"code"`
	Name            string         `json:"name"`
	QueryID         string         `gorm:"index" json:"query_id"`
	QuerySource     string         `json:"query_source"`
	ReportType      string         `json:"report_type"`
	OperationAdvice string         `json:"operation_advice"`
	SentimentScore  int            `json:"sentiment_score"`
	TrendPrediction string         `json:"trend_prediction"`
	Summary         string         `json:"summary"`
	KeyReasons      pq.StringArray `gorm:"type:text[]" json:"key_reasons"`
	CurrentPrice    float64        `json:"current_price"`
	ChangePct       float64        `json:"change_pct"`
	IntelText       string         `json:"intel_text"`
	ContextSnapshot datatypes.JSON `json:"context_snapshot,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the AnalysisHistory model.
func (AnalysisHistory) TableName() string {
	return "analysis_histories"
}
