package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-progress/internal/model"
)

// OpenCheckin records the prompt thread for w.Date. If a window already exists for
// that date it is returned unchanged and created is false.
func (s *Store) OpenCheckin(ctx context.Context, w model.CheckinWindow) (stored model.CheckinWindow, created bool, err error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&w)
	if res.Error != nil && !IsDuplicate(res.Error) {
		return model.CheckinWindow{}, false, fmt.Errorf("open checkin %s: %w", w.Date, res.Error)
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return w, true, nil
	}
	stored, err = s.Checkin(ctx, w.Date)
	return stored, false, err
}

func (s *Store) Checkin(ctx context.Context, date string) (model.CheckinWindow, error) {
	var w model.CheckinWindow
	err := s.db.WithContext(ctx).Where("date = ?", date).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.CheckinWindow{}, ErrNotFound
	}
	if err != nil {
		return model.CheckinWindow{}, fmt.Errorf("load checkin %s: %w", date, err)
	}
	return w, nil
}

// CloseCheckin stamps the window closed. Closing twice keeps the first timestamp.
func (s *Store) CloseCheckin(ctx context.Context, date string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.CheckinWindow{}).
		Where("date = ? AND closed_at IS NULL", date).
		Update("closed_at", at).Error
	if err != nil {
		return fmt.Errorf("close checkin %s: %w", date, err)
	}
	return nil
}
