package repository

import (
	"context"
	"time"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/entity"
	"astock-insight/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type dailyPriceRepository struct {
	db *gorm.DB
}

// NewDailyPriceRepository creates a new instance of DailyPriceRepository.
func NewDailyPriceRepository(db *gorm.DB) DailyPriceRepository {
	return &dailyPriceRepository{db: db}
}

// HasTodayData reports whether a bar for the given trade date already exists,
// which lets an interrupted batch resume without refetching.
func (r *dailyPriceRepository) HasTodayData(ctx context.Context, code string, date time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.DailyPrice{}).
		Where("code = ? AND trade_date = ?", utils.NormalizeStockCode(code), utils.TruncateToDate(date)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveDailyData upserts the fetched bars, ignoring rows already present.
// Returns the number of newly inserted rows.
func (r *dailyPriceRepository) SaveDailyData(ctx context.Context, rows []entity.DailyPrice, code, source string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	normCode := utils.NormalizeStockCode(code)
	for i := range rows {
		rows[i].Code = normCode
		if source != "" {
			rows[i].Source = source
		}
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}, {Name: "trade_date"}},
			DoNothing: true,
		}).
		CreateInBatches(rows, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// GetAnalysisContext loads the recent bars for one stock, newest last, with
// today/yesterday picked off the tail. Returns nil when no rows exist.
func (r *dailyPriceRepository) GetAnalysisContext(ctx context.Context, code string, days int) (*dto.AnalysisContext, error) {
	if days <= 0 {
		days = 30
	}

	normCode := utils.NormalizeStockCode(code)
	var rows []entity.DailyPrice
	err := r.db.WithContext(ctx).
		Where("code = ?", normCode).
		Order("trade_date DESC").
		Limit(days).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// Reverse into chronological order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	context := &dto.AnalysisContext{
		Code: normCode,
		Date: utils.TimeNowCST().Format("2006-01-02"),
		Rows: rows,
	}
	context.Today = &rows[len(rows)-1]
	if len(rows) > 1 {
		context.Yesterday = &rows[len(rows)-2]
	}
	return context, nil
}
