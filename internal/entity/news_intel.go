package entity

import (
	"time"

	"gorm.io/datatypes"
)

// NewsIntel is an audit record of one web-search intelligence dimension that
// was used as fallback input for an analysis.
type NewsIntel struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Code        string         `gorm:"not null;index" json:"code"`
	Name        string         `json:"name"`
	Dimension   string         `gorm:"not null" json:"dimension"`
	Query       string         `json:"query"`
	Response    datatypes.JSON `json:"response"`
	QueryID     string         `json:"query_id"`
	QuerySource string         `json:"query_source"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the NewsIntel model.
func (NewsIntel) TableName() string {
	return "news_intels"
}
