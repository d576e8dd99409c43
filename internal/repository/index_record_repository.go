package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"stockqa/internal/model"
)

type IndexRecordRepository struct {
	db *gorm.DB
}

func NewIndexRecordRepository(db *gorm.DB) *IndexRecordRepository {
	return &IndexRecordRepository{db: db}
}

// ReplaceByEntityID deletes every record of entityID and inserts records in
// one transaction, so readers see either the old or the new set.
func (r *IndexRecordRepository) ReplaceByEntityID(ctx context.Context, entityID string, records []model.IndexRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_id = ?", entityID).Delete(&model.IndexRecord{}).Error; err != nil {
			return fmt.Errorf("delete index records by entity failed: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("create index records batch failed: %w", err)
		}
		return nil
	})
}

// List returns all records, or only those of entityID when it is non-empty.
func (r *IndexRecordRepository) List(ctx context.Context, entityID string) ([]model.IndexRecord, error) {
	q := r.db.WithContext(ctx)
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	var records []model.IndexRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list index records failed: %w", err)
	}
	return records, nil
}

func (r *IndexRecordRepository) DeleteByEntityID(ctx context.Context, entityID string) error {
	if err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).Delete(&model.IndexRecord{}).Error; err != nil {
		return fmt.Errorf("delete index records by entity failed: %w", err)
	}
	return nil
}

func (r *IndexRecordRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.IndexRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count index records failed: %w", err)
	}
	return n, nil
}
