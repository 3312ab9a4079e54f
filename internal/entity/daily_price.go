package entity

import (
	"time"
)

// DailyPrice is one daily OHLCV bar for a stock.
type DailyPrice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"not null;uniqueIndex:idx_daily_prices_code_date" json:"code"`
	TradeDate time.Time `gorm:"not null;uniqueIndex:idx_daily_prices_code_date;type:date" json:"trade_date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
	ChangePct float64   `json:"change_pct"`
	Source    string    `json:"source"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the DailyPrice model.
func (DailyPrice) TableName() string {
	return "daily_prices"
}
