// Package store persists reports, signals, tracker snapshots and check-in windows.
// Every write is an upsert or an insert-or-ignore by natural key, so jobs may run
// concurrently without holding locks across I/O.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-progress/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates the engine's own tables.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&model.Identity{},
		&model.IdentityLink{},
		&model.TrackedItem{},
		&model.ProgressSignal{},
		&model.DailyReportRecord{},
		&model.WeeklyReportRecord{},
		&model.CheckinWindow{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// IsDuplicate reports whether err is a unique-key violation from either driver.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, model.ErrPersistenceConflict) {
		return true
	}
	var me *gomysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// upsert runs write once more when it loses a duplicate-key race; the second write
// takes the update path.
func upsert(write func() error) error {
	err := write()
	if IsDuplicate(err) {
		err = write()
	}
	if IsDuplicate(err) {
		return fmt.Errorf("%w: %v", model.ErrPersistenceConflict, err)
	}
	return err
}

// SaveDaily stores r as the one report for its date, replacing any earlier one.
func (s *Store) SaveDaily(ctx context.Context, r model.DailyReport) error {
	rec := model.DailyReportRecord{
		ReportDate:     r.Date,
		Partial:        r.Partial,
		CompletionRate: r.CompletionRate,
		Payload:        datatypes.NewJSONType(r),
		GeneratedAt:    r.GeneratedAt,
		UpdatedAt:      time.Now(),
	}
	err := upsert(func() error {
		rec.ID = 0
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "report_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"partial", "completion_rate", "payload", "generated_at", "updated_at"}),
		}).Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("save daily %s: %w", r.Date, err)
	}
	return nil
}

func (s *Store) Daily(ctx context.Context, date string) (model.DailyReport, error) {
	var rec model.DailyReportRecord
	err := s.db.WithContext(ctx).Where("report_date = ?", date).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DailyReport{}, ErrNotFound
	}
	if err != nil {
		return model.DailyReport{}, fmt.Errorf("load daily %s: %w", date, err)
	}
	return rec.Payload.Data(), nil
}

// DailiesBetween returns the stored dailies with from <= date <= to, oldest first.
func (s *Store) DailiesBetween(ctx context.Context, from, to string) ([]model.DailyReport, error) {
	var recs []model.DailyReportRecord
	err := s.db.WithContext(ctx).
		Where("report_date >= ? AND report_date <= ?", from, to).
		Order("report_date").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load dailies %s..%s: %w", from, to, err)
	}
	out := make([]model.DailyReport, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Payload.Data())
	}
	return out, nil
}

func (s *Store) CountDailies(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.DailyReportRecord{}).Count(&n).Error
	return n, err
}

func (s *Store) SaveWeekly(ctx context.Context, r model.WeeklyReport) error {
	rec := model.WeeklyReportRecord{
		WeekStart:   r.WeekStart,
		WeekEnd:     r.WeekEnd,
		Partial:     r.Partial,
		Payload:     datatypes.NewJSONType(r),
		GeneratedAt: r.GeneratedAt,
		UpdatedAt:   time.Now(),
	}
	err := upsert(func() error {
		rec.ID = 0
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "week_start"}, {Name: "week_end"}},
			DoUpdates: clause.AssignmentColumns([]string{"partial", "payload", "generated_at", "updated_at"}),
		}).Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("save weekly %s: %w", r.WeekStart, err)
	}
	return nil
}

func (s *Store) Weekly(ctx context.Context, weekStart string) (model.WeeklyReport, error) {
	var rec model.WeeklyReportRecord
	err := s.db.WithContext(ctx).Where("week_start = ?", weekStart).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.WeeklyReport{}, ErrNotFound
	}
	if err != nil {
		return model.WeeklyReport{}, fmt.Errorf("load weekly %s: %w", weekStart, err)
	}
	return rec.Payload.Data(), nil
}
