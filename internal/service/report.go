package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"smart-progress/internal/config"
	"smart-progress/internal/dispatch"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
	"smart-progress/internal/report"
	"smart-progress/internal/signal"
	"smart-progress/internal/store"
	"smart-progress/internal/taskstate"
)

// ReportOptions is the slice of configuration the report cycle needs.
type ReportOptions struct {
	Location      *time.Location
	WeekStart     time.Weekday
	ProjectIDs    []string
	Repos         []string
	Channel       string
	Workers       int
	TaskTimeout   time.Duration
	ChatTimeout   time.Duration
	CommitTimeout time.Duration
	OutputDir     string
	ExportExcel   bool
}

func ReportOptionsFrom(cfg *config.Config) (ReportOptions, error) {
	loc, err := cfg.Location()
	if err != nil {
		return ReportOptions{}, err
	}
	ws, err := cfg.WeekStartDay()
	if err != nil {
		return ReportOptions{}, err
	}
	return ReportOptions{
		Location:      loc,
		WeekStart:     ws,
		ProjectIDs:    cfg.Tracker.ProjectIDs,
		Repos:         cfg.VCS.Repos,
		Channel:       cfg.Slack.Channel,
		Workers:       cfg.Fetch.Workers,
		TaskTimeout:   cfg.Fetch.TaskTimeout,
		ChatTimeout:   cfg.Fetch.ChatTimeout,
		CommitTimeout: cfg.Fetch.CommitTimeout,
		OutputDir:     cfg.Report.OutputDir,
		ExportExcel:   cfg.Report.ExportExcel,
	}, nil
}

// ReportDeps are the collaborators of ReportService. Commits and Catalog may be nil.
type ReportDeps struct {
	Tasks      TaskSource
	Chat       Messenger
	Commits    CommitSource
	Store      *store.Store
	Normalizer *signal.Normalizer
	Builder    *report.Builder
	Dispatcher *dispatch.Dispatcher
	Catalog    *CatalogSync
}

// ReportService runs the daily and weekly report cycles and the check-in window.
// RunDaily and RunWeekly are the single entry points for every trigger.
type ReportService struct {
	ReportDeps
	opts ReportOptions
	now  func() time.Time
}

func NewReportService(deps ReportDeps, opts ReportOptions) *ReportService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &ReportService{ReportDeps: deps, opts: opts, now: time.Now}
}

// Today is the current calendar day in the reporting timezone.
func (s *ReportService) Today() time.Time {
	return taskstate.Day(s.now(), s.opts.Location)
}

// PreviousWeekStart is the start of the last full week before today.
func (s *ReportService) PreviousWeekStart() time.Time {
	today := s.Today()
	back := (int(today.Weekday()) - int(s.opts.WeekStart) + 7) % 7
	return today.AddDate(0, 0, -back-7)
}

type fetched struct {
	mu      sync.Mutex
	items   []model.TrackedItem
	events  []model.RawEvent
	missing []model.SourceNote
}

func (f *fetched) note(source string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing = append(f.missing, model.SourceNote{Source: source, Err: model.Kind(err)})
}

// RunDaily builds, stores and delivers the report for the calendar day of date.
// Chat and commit activity is read from the day before; check-ins from the day itself.
// Sources that fail are listed in the report, which is then partial. Only
// authentication and store failures abort the run.
func (s *ReportService) RunDaily(ctx context.Context, date time.Time) (model.DailyReport, error) {
	day := taskstate.Day(date, s.opts.Location)
	key := day.Format(model.DateLayout)
	start := time.Now()

	got, err := s.fetchAll(ctx, day)
	if err != nil {
		return model.DailyReport{}, fmt.Errorf("daily %s: %w", key, err)
	}
	if err := s.recordSignals(ctx, key, got.events); err != nil {
		return model.DailyReport{}, fmt.Errorf("daily %s: %w", key, err)
	}
	signals, err := s.Store.SignalsForDate(ctx, key)
	if err != nil {
		return model.DailyReport{}, fmt.Errorf("daily %s: %w", key, err)
	}

	sort.Slice(got.missing, func(i, j int) bool { return got.missing[i].Source < got.missing[j].Source })
	r := s.Builder.BuildDaily(report.DailyInput{
		Date:     day,
		Items:    got.items,
		Signals:  signals,
		Checkins: checkinSummaries(signals),
		Missing:  got.missing,
	})
	if err := s.Store.SaveDaily(ctx, r); err != nil {
		return r, fmt.Errorf("daily %s: %w", key, err)
	}
	if s.Catalog != nil {
		s.Catalog.SyncDailyReport(ctx, r)
	}
	logger.Info("daily.cycle.built", "date", key, "items", len(got.items), "signals", len(signals),
		"partial", r.Partial, "completion_rate", r.CompletionRate, "elapsed", time.Since(start))

	out := s.Dispatcher.Deliver(ctx, dispatch.Delivery{Ref: "daily:" + key, Daily: &r})
	if !out.Delivered {
		return r, fmt.Errorf("daily %s: %w", key, out.Err)
	}
	logger.Info("daily.cycle.done", "date", key, "attempts", len(out.Attempts), "identity_gaps", len(out.Gaps))
	return r, nil
}

func (s *ReportService) fetchAll(ctx context.Context, day time.Time) (*fetched, error) {
	from, to := day.AddDate(0, 0, -1), day
	got := &fetched{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, p := range s.opts.ProjectIDs {
		g.Go(func() error {
			var items []model.TrackedItem
			err := fetchWithRetry(gctx, s.opts.TaskTimeout, func(ctx context.Context) (err error) {
				items, err = s.Tasks.FetchTasks(ctx, p)
				return err
			})
			if err != nil {
				if abortsJob(err) {
					return err
				}
				logger.Warn("daily.source_failed", "source", "tracker", "project", p, "err", err)
				got.note("tracker:"+p, err)
				items = s.staleItems(ctx, p)
			}
			got.mu.Lock()
			got.items = append(got.items, items...)
			got.mu.Unlock()
			return nil
		})
	}

	if s.opts.Channel != "" {
		g.Go(func() error {
			var msgs []model.ChatMessage
			err := fetchWithRetry(gctx, s.opts.ChatTimeout, func(ctx context.Context) (err error) {
				msgs, err = s.Chat.FetchHistory(ctx, s.opts.Channel, from, to)
				return err
			})
			if err != nil {
				if abortsJob(err) {
					return err
				}
				logger.Warn("daily.source_failed", "source", "chat", "err", err)
				got.note("chat", err)
				return nil
			}
			got.mu.Lock()
			for _, m := range msgs {
				got.events = append(got.events, m)
			}
			got.mu.Unlock()
			return nil
		})

		g.Go(func() error {
			replies, err := s.fetchCheckinReplies(gctx, day)
			if err != nil {
				if abortsJob(err) {
					return err
				}
				logger.Warn("daily.source_failed", "source", "checkin", "err", err)
				got.note("checkin", err)
				return nil
			}
			got.mu.Lock()
			for _, r := range replies {
				got.events = append(got.events, r)
			}
			got.mu.Unlock()
			return nil
		})
	}

	if s.Commits != nil {
		for _, repo := range s.opts.Repos {
			g.Go(func() error {
				var commits []model.Commit
				err := fetchWithRetry(gctx, s.opts.CommitTimeout, func(ctx context.Context) (err error) {
					commits, err = s.Commits.FetchCommits(ctx, repo, from, to)
					return err
				})
				if err != nil {
					if abortsJob(err) {
						return err
					}
					logger.Warn("daily.source_failed", "source", "vcs", "repo", repo, "err", err)
					got.note("vcs:"+repo, err)
					return nil
				}
				got.mu.Lock()
				for _, c := range commits {
					got.events = append(got.events, c)
				}
				got.mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return got, nil
}

// staleItems falls back to the last cached snapshot of a project whatever its age.
func (s *ReportService) staleItems(ctx context.Context, projectID string) []model.TrackedItem {
	items, err := s.Store.Items(ctx, projectID, time.Time{})
	if err != nil {
		logger.Warn("stale snapshot unavailable", "project", projectID, "err", err)
		return nil
	}
	return items
}

func (s *ReportService) fetchCheckinReplies(ctx context.Context, day time.Time) ([]model.CheckinReply, error) {
	w, err := s.Store.Checkin(ctx, day.Format(model.DateLayout))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var replies []model.CheckinReply
	err = fetchWithRetry(ctx, s.opts.ChatTimeout, func(ctx context.Context) (err error) {
		replies, err = s.Chat.FetchReplies(ctx, w.Channel, w.ThreadTS)
		return err
	})
	return replies, err
}

// recordSignals normalizes events not seen before and stores them under key.
// Events already stored keep their first classification.
func (s *ReportService) recordSignals(ctx context.Context, key string, events []model.RawEvent) error {
	var fresh []model.ProgressSignal
	skipped := 0
	for kind, evs := range groupByKind(events) {
		refs := make([]string, 0, len(evs))
		for _, ev := range evs {
			refs = append(refs, sourceRef(ev))
		}
		stored, err := s.Store.SignalsByRef(ctx, kind, refs)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if _, ok := stored[sourceRef(ev)]; ok {
				continue
			}
			sig, err := s.Normalizer.Normalize(ctx, ev)
			if err != nil {
				skipped++
				logger.Debug("signal skipped", "kind", kind, "err", err)
				continue
			}
			sig.ReportDate = key
			fresh = append(fresh, sig)
		}
	}
	n, err := s.Store.InsertSignals(ctx, fresh)
	if err != nil {
		return err
	}
	logger.Info("signals.recorded", "date", key, "new", n, "malformed", skipped)
	return nil
}

func groupByKind(events []model.RawEvent) map[model.SourceKind][]model.RawEvent {
	out := map[model.SourceKind][]model.RawEvent{}
	for _, ev := range events {
		out[ev.Kind()] = append(out[ev.Kind()], ev)
	}
	return out
}

// sourceRef must agree with the SourceRef the normalizer assigns.
func sourceRef(ev model.RawEvent) string {
	switch e := ev.(type) {
	case model.ChatMessage:
		return e.Channel + ":" + e.TS
	case model.CheckinReply:
		return e.Channel + ":" + e.TS
	case model.Commit:
		return e.Repo + "@" + e.SHA
	}
	return ""
}

func checkinSummaries(signals []model.ProgressSignal) []model.CheckinSummary {
	var out []model.CheckinSummary
	for _, sig := range signals {
		if sig.SourceKind != model.SourceCheckin {
			continue
		}
		sum, ok := signal.ParseCheckin(sig.RawText)
		if !ok {
			continue
		}
		sum.AuthorID = sig.AuthorExternalID
		sum.AuthorName = sig.AuthorName
		out = append(out, sum)
	}
	return out
}

// abortsJob reports errors that must fail the whole run rather than degrade a source.
func abortsJob(err error) bool {
	return errors.Is(err, model.ErrAuthentication) || errors.Is(err, context.Canceled)
}

// fetchWithRetry runs op under timeout, retrying transient failures while the
// budget lasts. Running out of budget is itself transient.
func fetchWithRetry(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil && parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no answer within %s: %w", timeout, model.ErrTransientSource)
	}
	return err
}
