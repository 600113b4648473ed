// Package app wires the configured components together for the server and the CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"smart-progress/internal/config"
	"smart-progress/internal/dispatch"
	"smart-progress/internal/identity"
	"smart-progress/internal/logger"
	"smart-progress/internal/reference"
	"smart-progress/internal/report"
	"smart-progress/internal/scheduler"
	"smart-progress/internal/service"
	"smart-progress/internal/signal"
	"smart-progress/internal/store"
)

// Job names as listed by /api/jobs.
const (
	JobCheckinOpen  = "checkin_open"
	JobCheckinClose = "checkin_close"
	JobDailyReport  = "daily_report"
	JobWeeklyReport = "weekly_report"
)

type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      *store.Store
	Identities *identity.Resolver
	Tasks      *service.TaskCache
	Reports    *service.ReportService
	Dispatcher *dispatch.Dispatcher
	Scheduler  *scheduler.Scheduler
	Health     *service.HealthService
}

// New opens the store and builds every component from cfg. cfg should already be
// validated.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	opts, err := service.ReportOptionsFrom(cfg)
	if err != nil {
		return nil, err
	}
	refs, err := reference.NewSet(cfg.Tracker.RefPatterns)
	if err != nil {
		return nil, fmt.Errorf("tracker.ref_patterns: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("db dir: %w", err)
		}
	}
	db, err := cfg.OpenGormDB()
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db, Store: st}
	a.Identities = identity.NewResolver(db, cfg.Identity)

	backlog := service.NewBacklogClient(cfg.Tracker, opts.Location)
	a.Tasks = service.NewTaskCache(backlog, st, a.Identities, cfg.Tracker.CacheTTL)
	slackMsg := service.NewSlackMessenger(cfg.Slack)
	redactor := dispatch.NewRedactor(cfg.Secrets()...)
	a.Dispatcher = dispatch.New(slackMsg, a.Identities, cfg.Delivery, cfg.Slack.Channel, cfg.Slack.AlertChannel, redactor)

	a.Health = service.NewHealthService(5*time.Second, redactor.String)
	a.Health.Register("tracker", backlog, false)
	a.Health.Register("chat", slackMsg, false)
	a.Health.Register("store", st, false)

	var classifier signal.Classifier
	if ai := service.NewAIService(cfg.AI); ai.Enabled() {
		classifier = ai
		a.Health.Register("classifier", ai, true)
	} else {
		logger.Info("classifier disabled, using keyword lexicon")
	}

	var commits service.CommitSource
	if len(cfg.VCS.Repos) > 0 {
		gh, err := service.NewGitHubSource(cfg.VCS, "")
		if err != nil {
			return nil, err
		}
		commits = gh
		a.Health.Register("vcs", gh, true)
	}

	var catalog *service.CatalogSync
	raw, err := cfg.NewRawClient()
	if err != nil {
		logger.Warn("sdk client init failed", "err", err)
	} else if raw != nil {
		catalog = service.NewCatalogSync(raw, cfg.MOI)
		logger.Info("catalog sync enabled")
	}

	a.Reports = service.NewReportService(service.ReportDeps{
		Tasks:      a.Tasks,
		Chat:       slackMsg,
		Commits:    commits,
		Store:      st,
		Normalizer: signal.NewNormalizer(refs.All(), a.Identities, classifier, cfg.AI.Timeout),
		Builder:    report.NewBuilder(time.Now, refs.All(), opts.WeekStart),
		Dispatcher: a.Dispatcher,
		Catalog:    catalog,
	}, opts)

	a.Scheduler = scheduler.New(opts.Location, a.Dispatcher, 0)
	if err := a.registerJobs(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerJobs() error {
	sc := a.Config.Schedule
	jobs := []struct {
		name, spec string
		fn         scheduler.JobFunc
	}{
		{JobCheckinOpen, sc.CheckinOpen, func(ctx context.Context) error {
			_, err := a.Reports.OpenCheckin(ctx, a.Reports.Today())
			return err
		}},
		{JobCheckinClose, sc.CheckinClose, func(ctx context.Context) error {
			_, err := a.Reports.CloseCheckin(ctx, a.Reports.Today())
			return err
		}},
		{JobDailyReport, sc.DailyReport, func(ctx context.Context) error {
			_, err := a.Reports.RunDaily(ctx, a.Reports.Today())
			return err
		}},
		{JobWeeklyReport, sc.WeeklyReport, func(ctx context.Context) error {
			_, err := a.Reports.RunWeekly(ctx, a.Reports.PreviousWeekStart())
			return err
		}},
	}
	for _, j := range jobs {
		if err := a.Scheduler.Register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
