package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"smart-progress/internal/model"
)

// InsertSignals writes signals that are not stored yet. Existing (source_kind,
// source_ref) rows are left untouched.
func (s *Store) InsertSignals(ctx context.Context, signals []model.ProgressSignal) (int64, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	rows := make([]model.ProgressSignal, len(signals))
	copy(rows, signals)
	for i := range rows {
		rows[i].ID = 0
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 100)
	if res.Error != nil {
		return 0, fmt.Errorf("insert signals: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SignalsByRef returns already stored signals of kind keyed by source ref.
func (s *Store) SignalsByRef(ctx context.Context, kind model.SourceKind, refs []string) (map[string]model.ProgressSignal, error) {
	out := make(map[string]model.ProgressSignal, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	var rows []model.ProgressSignal
	err := s.db.WithContext(ctx).
		Where("source_kind = ? AND source_ref IN ?", kind, refs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	for _, r := range rows {
		out[r.SourceRef] = r
	}
	return out, nil
}

// SignalsForDate returns the signals attributed to a report date, in stable order.
func (s *Store) SignalsForDate(ctx context.Context, date string) ([]model.ProgressSignal, error) {
	var rows []model.ProgressSignal
	err := s.db.WithContext(ctx).
		Where("report_date = ?", date).
		Order("occurred_at, source_kind, source_ref").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load signals for %s: %w", date, err)
	}
	return rows, nil
}
