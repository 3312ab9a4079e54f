package repository

import (
	"context"

	"astock-insight/internal/entity"

	"gorm.io/gorm"
)

type analysisHistoryRepository struct {
	db *gorm.DB
}

// NewAnalysisHistoryRepository creates a new instance of AnalysisHistoryRepository.
func NewAnalysisHistoryRepository(db *gorm.DB) AnalysisHistoryRepository {
	return &analysisHistoryRepository{db: db}
}

func (r *analysisHistoryRepository) Save(ctx context.Context, history *entity.AnalysisHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

func (r *analysisHistoryRepository) FindLatestByCode(ctx context.Context, code string) (*entity.AnalysisHistory, error) {
	var history entity.AnalysisHistory
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		Order("created_at DESC").
		First(&history).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &history, nil
}

func (r *analysisHistoryRepository) FindByQueryID(ctx context.Context, queryID string) ([]entity.AnalysisHistory, error) {
	var histories []entity.AnalysisHistory
	err := r.db.WithContext(ctx).
		Where("query_id = ?", queryID).
		Order("created_at ASC").
		Find(&histories).Error
	if err != nil {
		return nil, err
	}
	return histories, nil
}
