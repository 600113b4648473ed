package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"smart-progress/internal/dispatch"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
	"smart-progress/internal/report"
	"smart-progress/internal/store"
	"smart-progress/internal/taskstate"
)

// RunWeekly aggregates the stored dailies of the week starting at weekStart,
// stores the result and delivers it. Missing days make the report partial.
func (s *ReportService) RunWeekly(ctx context.Context, weekStart time.Time) (model.WeeklyReport, error) {
	w, dailies, err := s.BuildWeekly(ctx, weekStart)
	if err != nil {
		return model.WeeklyReport{}, err
	}
	if err := s.Store.SaveWeekly(ctx, w); err != nil {
		return w, fmt.Errorf("weekly %s: %w", w.WeekStart, err)
	}
	if s.opts.ExportExcel && s.opts.OutputDir != "" {
		if _, err := s.writeExport(w, dailies, s.opts.OutputDir); err != nil {
			logger.Warn("weekly.export_failed", "week", w.WeekStart, "err", err)
		}
	}
	out := s.Dispatcher.Deliver(ctx, dispatch.Delivery{Ref: "weekly:" + w.WeekStart, Weekly: &w})
	if !out.Delivered {
		return w, fmt.Errorf("weekly %s: %w", w.WeekStart, out.Err)
	}
	logger.Info("weekly.cycle.done", "week", w.WeekStart, "present", len(w.PresentDates), "partial", w.Partial)
	return w, nil
}

// BuildWeekly computes the weekly report without storing or sending it.
func (s *ReportService) BuildWeekly(ctx context.Context, weekStart time.Time) (model.WeeklyReport, []model.DailyReport, error) {
	start := taskstate.Day(weekStart, s.opts.Location)
	key := start.Format(model.DateLayout)
	end := start.AddDate(0, 0, 6).Format(model.DateLayout)

	dailies, err := s.Store.DailiesBetween(ctx, key, end)
	if err != nil {
		return model.WeeklyReport{}, nil, fmt.Errorf("weekly %s: %w", key, err)
	}
	var previous *model.WeeklyReport
	prev, err := s.Store.Weekly(ctx, start.AddDate(0, 0, -7).Format(model.DateLayout))
	switch {
	case err == nil:
		previous = &prev
	case !errors.Is(err, store.ErrNotFound):
		return model.WeeklyReport{}, nil, fmt.Errorf("weekly %s: %w", key, err)
	}
	w, err := s.Builder.BuildWeekly(start, dailies, previous)
	if err != nil {
		return model.WeeklyReport{}, nil, fmt.Errorf("weekly %s: %w", key, err)
	}
	return w, dailies, nil
}

// ExportWeekly writes the weekly report for weekStart into dir as JSON and xlsx
// and returns the written paths.
func (s *ReportService) ExportWeekly(ctx context.Context, weekStart time.Time, dir string) ([]string, error) {
	w, dailies, err := s.BuildWeekly(ctx, weekStart)
	if err != nil {
		return nil, err
	}
	return s.writeExport(w, dailies, dir)
}

func (s *ReportService) writeExport(w model.WeeklyReport, dailies []model.DailyReport, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export dir: %w", err)
	}
	base := filepath.Join(dir, "weekly-"+w.WeekStart)

	js, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode weekly: %w", err)
	}
	if err := atomic.WriteFile(base+".json", bytes.NewReader(js)); err != nil {
		return nil, fmt.Errorf("write %s.json: %w", base, err)
	}

	f, err := report.WeeklyWorkbook(w, dailies)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	if err := atomic.WriteFile(base+".xlsx", buf); err != nil {
		return nil, fmt.Errorf("write %s.xlsx: %w", base, err)
	}
	logger.Info("weekly.exported", "week", w.WeekStart, "dir", dir)
	return []string{base + ".json", base + ".xlsx"}, nil
}
