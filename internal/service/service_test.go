package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smart-progress/internal/config"
	"smart-progress/internal/dispatch"
	"smart-progress/internal/model"
	"smart-progress/internal/report"
	"smart-progress/internal/signal"
	"smart-progress/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return s
}

type fakeTasks struct {
	mu       sync.Mutex
	items    map[string][]model.TrackedItem
	failures []error
	calls    int
}

func (f *fakeTasks) FetchTasks(_ context.Context, projectID string) ([]model.TrackedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]model.TrackedItem(nil), f.items[projectID]...), nil
}

type fakeMessenger struct {
	mu          sync.Mutex
	history     []model.ChatMessage
	replies     []model.CheckinReply
	posted      []string
	threadPosts []string
	from, to    time.Time
}

func (f *fakeMessenger) PostMessage(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, text)
	return "1710300000.000100", nil
}

func (f *fakeMessenger) PostReply(_ context.Context, _, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadPosts = append(f.threadPosts, text)
	return "1710300000.000900", nil
}

func (f *fakeMessenger) FetchHistory(_ context.Context, _ string, oldest, latest time.Time) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.from, f.to = oldest, latest
	return f.history, nil
}

func (f *fakeMessenger) FetchReplies(_ context.Context, _, _ string) ([]model.CheckinReply, error) {
	return f.replies, nil
}

func (f *fakeMessenger) FormatMention(id string) string { return "<@" + id + ">" }

type fakeCommits struct {
	commits []model.Commit
	err     error
}

func (f *fakeCommits) FetchCommits(context.Context, string, time.Time, time.Time) ([]model.Commit, error) {
	return f.commits, f.err
}

type countingClassifier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClassifier) Classify(context.Context, string) (signal.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return signal.Classification{Category: model.CategoryInProgress, Sentiment: model.SentimentNeutral, Summary: "work ongoing"}, nil
}

type fixture struct {
	svc        *ReportService
	store      *store.Store
	tasks      *fakeTasks
	chat       *fakeMessenger
	commits    *fakeCommits
	classifier *countingClassifier
}

var (
	testDay  = time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	testRefs = []*regexp.Regexp{regexp.MustCompile(`\b([A-Z][A-Z0-9_]+-[0-9]+)\b`)}
)

func newFixture(t *testing.T, opts ReportOptions) *fixture {
	t.Helper()
	f := &fixture{
		store:      setupTestStore(t),
		tasks:      &fakeTasks{items: map[string][]model.TrackedItem{}},
		chat:       &fakeMessenger{},
		commits:    &fakeCommits{},
		classifier: &countingClassifier{},
	}
	now := func() time.Time { return testDay.Add(10 * time.Hour) }
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	opts.WeekStart = time.Monday
	opts.Channel = "C1"
	if opts.ProjectIDs == nil {
		opts.ProjectIDs = []string{"100"}
	}
	if opts.Repos == nil {
		opts.Repos = []string{"acme/api"}
	}
	opts.TaskTimeout, opts.ChatTimeout, opts.CommitTimeout = 2*time.Second, 2*time.Second, 2*time.Second

	disp := dispatch.New(f.chat, nil, config.DeliveryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, "C1", "", dispatch.NewRedactor())
	f.svc = NewReportService(ReportDeps{
		Tasks:      f.tasks,
		Chat:       f.chat,
		Commits:    f.commits,
		Store:      f.store,
		Normalizer: signal.NewNormalizer(testRefs, nil, f.classifier, time.Second),
		Builder:    report.NewBuilder(now, testRefs, time.Monday),
		Dispatcher: disp,
	}, opts)
	f.svc.now = now
	return f
}

func dueOn(d time.Time) *time.Time { return &d }

func seedSources(f *fixture) {
	f.tasks.items["100"] = []model.TrackedItem{
		{ID: "API-1", ProjectID: "100", Summary: "Login page", Status: model.StatusOpen, AssigneeID: "7",
			DueDate: dueOn(testDay.AddDate(0, 0, -1)), CreatedAt: testDay.AddDate(0, 0, -10)},
		{ID: "API-2", ProjectID: "100", Summary: "Session store", Status: model.StatusInProgress,
			DueDate: dueOn(testDay), CreatedAt: testDay.AddDate(0, 0, -10)},
	}
	f.chat.history = []model.ChatMessage{
		{Channel: "C1", UserID: "U1", UserName: "alice", Text: "API-1 is still in review", TS: "1710237600.000100", Time: testDay.Add(-14 * time.Hour)},
	}
	f.commits.commits = []model.Commit{
		{Repo: "acme/api", SHA: "abc123", Author: "bob", Message: "Fix API-2 session expiry", Time: testDay.Add(-12 * time.Hour)},
	}
}

func ids(refs []model.ItemRef) []string {
	var out []string
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestRunDailyBuildsStoresAndDelivers(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	seedSources(f)
	ctx := context.Background()

	r, err := f.svc.RunDaily(ctx, testDay.Add(10*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "2024-03-13", r.Date)
	assert.False(t, r.Partial)
	assert.Equal(t, []string{"API-1"}, ids(r.Overdue))
	assert.Equal(t, []string{"API-2"}, ids(r.DueToday))
	require.Len(t, r.Signals, 2)
	for _, s := range r.Signals {
		assert.Equal(t, "2024-03-13", s.ReportDate)
	}

	assert.True(t, f.chat.from.Equal(testDay.AddDate(0, 0, -1)), "history window starts the day before")
	assert.True(t, f.chat.to.Equal(testDay))

	stored, err := f.store.Daily(ctx, "2024-03-13")
	require.NoError(t, err)
	assert.Equal(t, ids(r.Overdue), ids(stored.Overdue))

	require.Len(t, f.chat.posted, 1)
	assert.Contains(t, f.chat.posted[0], "API-1")
}

func TestRunDailyReusesStoredSignals(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	seedSources(f)
	ctx := context.Background()

	_, err := f.svc.RunDaily(ctx, testDay)
	require.NoError(t, err)
	first := f.classifier.calls

	r, err := f.svc.RunDaily(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, first, f.classifier.calls)
	assert.Len(t, r.Signals, 2)

	n, err := f.store.CountDailies(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRunDailyMarksFailedSourcePartial(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	seedSources(f)
	f.commits.err = errors.New("repository moved")

	r, err := f.svc.RunDaily(context.Background(), testDay)
	require.NoError(t, err)
	assert.True(t, r.Partial)
	require.Len(t, r.MissingSources, 1)
	assert.Equal(t, "vcs:acme/api", r.MissingSources[0].Source)
	assert.Len(t, r.Signals, 1)
	require.Len(t, f.chat.posted, 1)
	assert.Contains(t, f.chat.posted[0], "Partial report")
}

func TestRunDailyRetriesTransientSource(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	seedSources(f)
	f.tasks.failures = []error{model.ErrTransientSource}

	r, err := f.svc.RunDaily(context.Background(), testDay)
	require.NoError(t, err)
	assert.False(t, r.Partial)
	assert.Equal(t, 2, f.tasks.calls)
	assert.Equal(t, []string{"API-1"}, ids(r.Overdue))
}

func TestRunDailyFallsBackToCachedItems(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveItems(ctx, []model.TrackedItem{
		{ID: "API-9", ProjectID: "100", Summary: "Old task", Status: model.StatusOpen,
			DueDate: dueOn(testDay.AddDate(0, 0, -3)), CreatedAt: testDay.AddDate(0, 0, -20),
			FetchedAt: testDay.AddDate(0, 0, -2)},
	}))
	f.tasks.failures = []error{errors.New("project archived")}

	r, err := f.svc.RunDaily(ctx, testDay)
	require.NoError(t, err)
	assert.True(t, r.Partial)
	assert.Equal(t, "tracker:100", r.MissingSources[0].Source)
	assert.Equal(t, []string{"API-9"}, ids(r.Overdue))
}

func TestRunDailyAbortsOnAuthentication(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	seedSources(f)
	f.tasks.failures = []error{model.ErrAuthentication}
	ctx := context.Background()

	_, err := f.svc.RunDaily(ctx, testDay)
	require.ErrorIs(t, err, model.ErrAuthentication)

	_, err = f.store.Daily(ctx, "2024-03-13")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.chat.posted)
}

func TestCheckinWindow(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	ctx := context.Background()

	w, err := f.svc.OpenCheckin(ctx, testDay.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-13", w.Date)
	assert.Equal(t, "1710300000.000100", w.ThreadTS)

	_, err = f.svc.OpenCheckin(ctx, testDay.Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, f.chat.posted, 1, "prompt is posted once per day")

	f.chat.replies = []model.CheckinReply{
		{Channel: "C1", ThreadTS: w.ThreadTS, TS: "1710300100.000100", UserID: "U1", UserName: "alice",
			Text: "Yesterday: finished API-1 review\nToday: API-2\nBlockers: waiting on DB access", Time: testDay.Add(9 * time.Hour)},
		{Channel: "C1", ThreadTS: w.ThreadTS, TS: "1710300200.000100", UserID: "U2", UserName: "bob",
			Text: "thanks!", Time: testDay.Add(9 * time.Hour)},
	}
	sums, err := f.svc.CloseCheckin(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, "alice", sums[0].AuthorName)
	assert.Equal(t, []string{"waiting on DB access"}, sums[0].Blockers)
	require.Len(t, f.chat.threadPosts, 1)
	assert.Contains(t, f.chat.threadPosts[0], "Check-in summary")

	stored, err := f.store.Checkin(ctx, "2024-03-13")
	require.NoError(t, err)
	assert.NotNil(t, stored.ClosedAt)

	signals, err := f.store.SignalsForDate(ctx, "2024-03-13")
	require.NoError(t, err)
	require.Len(t, signals, 2)

	r, err := f.svc.RunDaily(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, r.Checkins, 1)
	assert.Equal(t, "U1", r.Checkins[0].AuthorID)
}

func TestCloseCheckinWithoutWindow(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	sums, err := f.svc.CloseCheckin(context.Background(), testDay)
	require.NoError(t, err)
	assert.Nil(t, sums)
	assert.Empty(t, f.chat.threadPosts)
}

func TestRunWeeklyAggregatesStoredDailies(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, ReportOptions{ExportExcel: true, OutputDir: dir})
	ctx := context.Background()
	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.SaveDaily(ctx, model.DailyReport{Date: "2024-03-11", CompletionRate: 0.5}))
	require.NoError(t, f.store.SaveDaily(ctx, model.DailyReport{Date: "2024-03-12", CompletionRate: 1}))

	w, err := f.svc.RunWeekly(ctx, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-11", "2024-03-12"}, w.PresentDates)
	assert.True(t, w.Partial)
	assert.InDelta(t, 0.75, w.AvgCompletionRate, 1e-9)

	stored, err := f.store.Weekly(ctx, "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, w.PresentDates, stored.PresentDates)

	require.Len(t, f.chat.posted, 1)
	assert.Contains(t, f.chat.posted[0], "Partial week: 2 of 7")

	for _, ext := range []string{".json", ".xlsx"} {
		_, err := os.Stat(filepath.Join(dir, "weekly-2024-03-11"+ext))
		assert.NoError(t, err, ext)
	}
}

func TestRunWeeklyRejectsMisalignedStart(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	_, err := f.svc.RunWeekly(context.Background(), testDay)
	require.ErrorIs(t, err, report.ErrMisalignedWeek)
	assert.Empty(t, f.chat.posted)
}

func TestPreviousWeekStart(t *testing.T) {
	f := newFixture(t, ReportOptions{})
	for _, tc := range []struct {
		now  time.Time
		want string
	}{
		{time.Date(2024, 3, 13, 11, 0, 0, 0, time.UTC), "2024-03-04"},
		{time.Date(2024, 3, 11, 11, 0, 0, 0, time.UTC), "2024-03-04"},
		{time.Date(2024, 3, 17, 11, 0, 0, 0, time.UTC), "2024-03-04"},
	} {
		f.svc.now = func() time.Time { return tc.now }
		assert.Equal(t, tc.want, f.svc.PreviousWeekStart().Format(model.DateLayout), tc.now.Weekday().String())
	}
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func TestHealthCheck(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: token=xoxb-123456 refused") })

	tests := []struct {
		name     string
		required Pinger
		optional Pinger
		want     string
	}{
		{"all healthy", ok, ok, Healthy},
		{"optional down", ok, down, Degraded},
		{"required down", down, ok, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthService(time.Second, dispatch.NewRedactor().String)
			h.Register("tracker", tt.required, false)
			h.Register("classifier", tt.optional, true)
			h.Register("unconfigured", nil, false)

			got := h.Check(context.Background())
			assert.Equal(t, tt.want, got.Status)
			require.Len(t, got.Components, 2)
			assert.Equal(t, "classifier", got.Components[0].Name)
			for _, c := range got.Components {
				assert.False(t, strings.Contains(c.Message, "xoxb-123456"))
			}
		})
	}
}

type recordingEnsurer struct{ ids []string }

func (r *recordingEnsurer) Ensure(_ context.Context, _ model.IdentitySpace, id, name string) (model.Identity, error) {
	r.ids = append(r.ids, id)
	return model.Identity{DisplayName: name}, nil
}

func TestTaskCacheServesFreshSnapshot(t *testing.T) {
	st := setupTestStore(t)
	src := &fakeTasks{items: map[string][]model.TrackedItem{
		"100": {
			{ID: "API-1", ProjectID: "100", AssigneeID: "7", AssigneeName: "Alice", Status: model.StatusOpen},
			{ID: "API-2", ProjectID: "100", AssigneeID: "7", AssigneeName: "Alice", Status: model.StatusOpen},
		},
	}}
	idents := &recordingEnsurer{}
	c := NewTaskCache(src, st, idents, time.Hour)
	ctx := context.Background()

	items, err := c.FetchTasks(ctx, "100")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, []string{"7"}, idents.ids)

	items, err = c.FetchTasks(ctx, "100")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 1, src.calls)

	_, err = c.Refresh(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestFetchWithRetry(t *testing.T) {
	ctx := context.Background()

	err := fetchWithRetry(ctx, 50*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, model.ErrTransientSource, "an exhausted budget reads as transient")

	calls := 0
	err = fetchWithRetry(ctx, time.Second, func(context.Context) error {
		calls++
		return model.ErrAuthentication
	})
	require.ErrorIs(t, err, model.ErrAuthentication)
	assert.Equal(t, 1, calls)

	calls = 0
	err = fetchWithRetry(ctx, time.Second, func(context.Context) error {
		calls++
		return model.ErrTransientSource
	})
	require.ErrorIs(t, err, model.ErrTransientSource)
	assert.GreaterOrEqual(t, calls, 2)
}
