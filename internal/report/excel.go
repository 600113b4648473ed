package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"smart-progress/internal/model"
)

const (
	dashboardSheet = "Dashboard"
	dailySheet     = "Daily"
	blockerSheet   = "Blockers"
)

// WeeklyWorkbook lays out a weekly report and its dailies: a dashboard with the
// headline numbers, one row per day, and the blocker lists.
func WeeklyWorkbook(w model.WeeklyReport, dailies []model.DailyReport) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(dashboardSheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "#000000", Style: 1},
			{Type: "right", Color: "#000000", Style: 1},
			{Type: "top", Color: "#000000", Style: 1},
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	pctStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 10})

	rows := [][]any{
		{"Week from", w.WeekStart},
		{"Week to", w.WeekEnd},
		{"Days reported", len(w.PresentDates)},
		{"Missing days", strings.Join(w.Gaps, ", ")},
		{"Partial", w.Partial},
		{"Average completion", w.AvgCompletionRate},
		{"Average overdue", w.AvgOverdue},
		{"Overdue trend %", w.OverdueTrend},
	}
	if w.CompletionDelta != nil {
		rows = append(rows, []any{"Completion vs last week", *w.CompletionDelta})
	}
	for i, r := range rows {
		if err := f.SetSheetRow(dashboardSheet, cellName(1, i+1), &r); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetCellStyle(dashboardSheet, "B6", "B6", pctStyle)
	f.SetColWidth(dashboardSheet, "A", "A", 26)
	f.SetColWidth(dashboardSheet, "B", "B", 40)

	row := len(rows) + 2
	for _, sec := range []struct {
		name  string
		items []string
	}{
		{"Key achievements", w.KeyAchievements},
		{"Recommendations", w.Recommendations},
	} {
		f.SetCellValue(dashboardSheet, cellName(1, row), sec.name)
		f.SetCellStyle(dashboardSheet, cellName(1, row), cellName(1, row), headerStyle)
		row++
		for _, it := range sec.items {
			f.SetCellValue(dashboardSheet, cellName(1, row), it)
			row++
		}
		row++
	}

	if _, err := f.NewSheet(dailySheet); err != nil {
		f.Close()
		return nil, err
	}
	header := []any{"Date", "Completion", "Completed", "Eligible", "Overdue", "Due today", "Due this week", "Unscheduled", "Signals", "Partial"}
	f.SetSheetRow(dailySheet, "A1", &header)
	f.SetCellStyle(dailySheet, "A1", cellName(len(header), 1), headerStyle)
	for i, d := range dailies {
		r := []any{d.Date, d.CompletionRate, d.CompletedCount, d.EligibleCount, len(d.Overdue), len(d.DueToday),
			len(d.DueThisWeek), len(d.Unscheduled), len(d.Signals), d.Partial}
		f.SetSheetRow(dailySheet, cellName(1, i+2), &r)
		f.SetCellStyle(dailySheet, cellName(2, i+2), cellName(2, i+2), pctStyle)
	}

	if _, err := f.NewSheet(blockerSheet); err != nil {
		f.Close()
		return nil, err
	}
	bh := []any{"Subject", "Days", "Dates"}
	f.SetSheetRow(blockerSheet, "A1", &bh)
	f.SetCellStyle(blockerSheet, "A1", "C1", headerStyle)
	for i, rb := range w.RecurringBlockers {
		r := []any{rb.Subject, rb.Occurrences, strings.Join(rb.Dates, ", ")}
		f.SetSheetRow(blockerSheet, cellName(1, i+2), &r)
	}
	next := len(w.RecurringBlockers) + 3
	for i, line := range w.Blockers {
		f.SetCellValue(blockerSheet, cellName(1, next+i), line)
	}
	return f, nil
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Sprintf("A%d", row)
	}
	return name
}
