package service

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/matrixorigin/moi-go-sdk"

	"smart-progress/internal/logger"
)

var dailyColumnTypes = map[string]string{
	"report_date":     "DATE",
	"completion_rate": "DECIMAL(6,4)",
	"partial":         "VARCHAR(5)",
	"generated_at":    "DATETIME",
}

// InitCatalog creates the catalog database and the daily report table that
// SyncDailyReport appends to. Existing objects are kept; tableID is zero when the
// table already existed.
func InitCatalog(ctx context.Context, client *sdk.RawClient, catalogID sdk.CatalogID, dbName string) (sdk.DatabaseID, sdk.TableID, error) {
	var dbID sdk.DatabaseID
	dbResp, err := client.CreateDatabase(ctx, &sdk.DatabaseCreateRequest{
		CatalogID:    catalogID,
		DatabaseName: dbName,
		Comment:      "team progress reports",
	})
	switch {
	case err == nil:
		dbID = dbResp.DatabaseID
		logger.Info("catalog: database created", "id", dbID)
	case isDuplicateCatalog(err):
		logger.Info("catalog: database already exists, discovering ID", "name", dbName)
		if dbID, err = discoverDatabaseID(ctx, client, catalogID, dbName); err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, fmt.Errorf("create database: %w", err)
	}

	columns := make([]sdk.Column, 0, len(dailyColumns))
	for _, name := range dailyColumns {
		typ, ok := dailyColumnTypes[name]
		if !ok {
			typ = "INT"
		}
		columns = append(columns, sdk.Column{Name: name, Type: typ, IsPk: name == "report_date", Comment: strings.ReplaceAll(name, "_", " ")})
	}
	resp, err := client.CreateTable(ctx, &sdk.TableCreateRequest{
		DatabaseID: dbID,
		Name:       "daily_reports",
		Columns:    columns,
		Comment:    "one row per daily progress report",
	})
	if err != nil {
		if isDuplicateCatalog(err) {
			logger.Info("catalog: table already exists, skipping", "name", "daily_reports")
			return dbID, 0, nil
		}
		return dbID, 0, fmt.Errorf("create table daily_reports: %w", err)
	}
	logger.Info("catalog: table created", "name", "daily_reports", "id", resp.TableID)
	return dbID, resp.TableID, nil
}

// InitKnowledge registers NL2SQL hints for querying the daily report table.
func InitKnowledge(ctx context.Context, client *sdk.RawClient) error {
	knowledges := []sdk.NL2SQLKnowledgeCreateRequest{
		{Type: "glossary", Key: "completion rate", Value: []string{"daily_reports.completion_rate: share of items due by the report day that were finished that day"}},
		{Type: "glossary", Key: "overdue", Value: []string{"daily_reports.overdue: open items whose due date is before the report day"}},
		{Type: "glossary", Key: "partial report", Value: []string{"daily_reports.partial = 'true' when a source could not be read"}},
		{Type: "synonyms", Key: "date/day/when", Value: []string{"report day"}, AssociateTables: []string{"daily_reports,report_date"}},
		{Type: "synonyms", Key: "blocked/stuck/blockers", Value: []string{"signals classified as blocked"}, AssociateTables: []string{"daily_reports,blocked"}},
		{Type: "logic", Key: "this week means from the most recent Monday to today", Value: []string{"report_date >= DATE_SUB(CURDATE(), INTERVAL WEEKDAY(CURDATE()) DAY)"}},
		{Type: "case_library", Key: "average completion rate this week", Value: []string{"SELECT AVG(completion_rate) FROM daily_reports WHERE report_date >= DATE_SUB(CURDATE(), INTERVAL WEEKDAY(CURDATE()) DAY)"}},
		{Type: "case_library", Key: "days with the most overdue items", Value: []string{"SELECT report_date, overdue FROM daily_reports ORDER BY overdue DESC LIMIT 5"}},
	}
	for _, k := range knowledges {
		resp, err := client.CreateKnowledge(ctx, &k)
		if err != nil {
			if isDuplicateCatalog(err) {
				logger.Info("knowledge: already exists, skipping", "type", k.Type, "key", k.Key)
				continue
			}
			return err
		}
		logger.Info("knowledge: created", "type", k.Type, "key", k.Key, "id", resp.ID)
	}
	return nil
}

func discoverDatabaseID(ctx context.Context, client *sdk.RawClient, catalogID sdk.CatalogID, dbName string) (sdk.DatabaseID, error) {
	resp, err := client.ListDatabases(ctx, &sdk.DatabaseListRequest{CatalogID: catalogID})
	if err != nil {
		return 0, fmt.Errorf("list databases: %w", err)
	}
	for _, db := range resp.List {
		if db.DatabaseName == dbName {
			logger.Info("catalog: database discovered", "id", db.DatabaseID)
			return db.DatabaseID, nil
		}
	}
	return 0, fmt.Errorf("database %s not found in catalog %d", dbName, catalogID)
}

func isDuplicateCatalog(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate") || strings.Contains(s, "already exist") || strings.Contains(s, "conflict")
}
