package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"smart-progress/internal/model"
)

// SaveItems replaces the cached snapshot rows for the given items.
func (s *Store) SaveItems(ctx context.Context, items []model.TrackedItem) error {
	if len(items) == 0 {
		return nil
	}
	err := upsert(func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&items, 100).Error
	})
	if err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	return nil
}

// Items returns the cached snapshot of project fetched at or after freshAfter.
func (s *Store) Items(ctx context.Context, projectID string, freshAfter time.Time) ([]model.TrackedItem, error) {
	var items []model.TrackedItem
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND fetched_at >= ?", projectID, freshAfter).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("load items %s: %w", projectID, err)
	}
	return items, nil
}
