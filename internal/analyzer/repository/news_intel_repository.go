package repository

import (
	"context"

	"astock-insight/internal/entity"

	"gorm.io/gorm"
)

type newsIntelRepository struct {
	db *gorm.DB
}

// NewNewsIntelRepository creates a new instance of NewsIntelRepository.
func NewNewsIntelRepository(db *gorm.DB) NewsIntelRepository {
	return &newsIntelRepository{db: db}
}

func (r *newsIntelRepository) Save(ctx context.Context, intel *entity.NewsIntel) error {
	return r.db.WithContext(ctx).Create(intel).Error
}
