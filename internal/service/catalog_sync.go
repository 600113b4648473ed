package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	sdk "github.com/matrixorigin/moi-go-sdk"

	"smart-progress/internal/config"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
)

// CatalogSync mirrors stored daily reports into a MOI catalog table so they can be
// queried alongside other project data. Failures are logged, never returned.
type CatalogSync struct {
	raw        *sdk.RawClient
	sdk        *sdk.SDKClient
	databaseID sdk.DatabaseID
	tableID    sdk.TableID
}

func NewCatalogSync(raw *sdk.RawClient, cfg config.MOIConfig) *CatalogSync {
	return &CatalogSync{
		raw:        raw,
		sdk:        sdk.NewSDKClient(raw),
		databaseID: sdk.DatabaseID(cfg.DatabaseID),
		tableID:    sdk.TableID(cfg.TableID),
	}
}

var dailyColumns = []string{
	"report_date", "completion_rate", "completed", "eligible", "overdue", "due_today",
	"due_this_week", "unscheduled", "signals", "blocked", "partial", "generated_at",
}

// SyncDailyReport writes the summary row for r. report_date is the table key, so
// a re-run for the same date replaces the earlier row.
func (s *CatalogSync) SyncDailyReport(ctx context.Context, r model.DailyReport) {
	fileName := fmt.Sprintf("daily_%s.csv", r.Date)
	resp, err := s.raw.UploadLocalFile(ctx, strings.NewReader(dailyCSV(r)), fileName, []sdk.FileMeta{{Filename: fileName, Path: "/"}})
	if err != nil {
		logger.Warn("catalog sync: upload failed", "table", s.tableID, "err", err)
		return
	}
	if len(resp.ConnFileIds) == 0 {
		logger.Warn("catalog sync: no conn_file_ids", "table", s.tableID)
		return
	}
	if _, err := s.sdk.ImportLocalFileToTable(ctx, s.importConfig(resp.ConnFileIds)); err != nil {
		logger.Warn("catalog sync: import failed", "table", s.tableID, "file", fileName, "err", err)
		return
	}
	logger.Info("catalog sync: ok", "table", s.tableID, "file", fileName)
}

func dailyCSV(r model.DailyReport) string {
	blocked := 0
	for _, sig := range r.Signals {
		if sig.Category == model.CategoryBlocked {
			blocked++
		}
	}
	row := []string{
		r.Date,
		fmt.Sprintf("%.4f", r.CompletionRate),
		fmt.Sprint(r.CompletedCount),
		fmt.Sprint(r.EligibleCount),
		fmt.Sprint(len(r.Overdue)),
		fmt.Sprint(len(r.DueToday)),
		fmt.Sprint(len(r.DueThisWeek)),
		fmt.Sprint(len(r.Unscheduled)),
		fmt.Sprint(len(r.Signals)),
		fmt.Sprint(blocked),
		fmt.Sprint(r.Partial),
		r.GeneratedAt.Format("2006-01-02 15:04:05"),
	}
	var buf bytes.Buffer
	for i, v := range row {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(esc(v))
	}
	buf.WriteByte('\n')
	return buf.String()
}

func (s *CatalogSync) importConfig(connFileIDs []string) *sdk.TableConfig {
	mapping := make([]sdk.FileAndTableColumnMapping, 0, len(dailyColumns))
	for i, col := range dailyColumns {
		mapping = append(mapping, sdk.FileAndTableColumnMapping{TableColumn: col, Column: col, ColNumInFile: int32(i + 1)})
	}
	return &sdk.TableConfig{
		ConnFileIDs:      connFileIDs,
		NewTable:         false,
		DatabaseID:       s.databaseID,
		TableID:          s.tableID,
		IsColumnName:     false,
		RowStart:         1,
		Conflict:         sdk.ConflictPolicyReplace,
		ExistedTable:     mapping,
		ExistedTableOpts: sdk.ExistedTableOptions{Method: sdk.ExistedTableOptionAppend},
	}
}

func esc(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
