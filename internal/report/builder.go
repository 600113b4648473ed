// Package report builds daily and weekly status reports from a tracker snapshot and
// progress signals. Builders are pure apart from the injected clock.
package report

import (
	"regexp"
	"sort"
	"time"

	"smart-progress/internal/model"
	"smart-progress/internal/taskstate"
)

type Builder struct {
	now       func() time.Time
	refs      []*regexp.Regexp
	weekStart time.Weekday
}

// NewBuilder returns a builder. refs find item keys in check-in blocker lines;
// weekStart is the weekday a weekly report must start on.
func NewBuilder(now func() time.Time, refs []*regexp.Regexp, weekStart time.Weekday) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now, refs: refs, weekStart: weekStart}
}

type DailyInput struct {
	// Date is any instant on the report day, in the reporting timezone.
	Date     time.Time
	Items    []model.TrackedItem
	Signals  []model.ProgressSignal
	Checkins []model.CheckinSummary
	Missing  []model.SourceNote
}

func (b *Builder) BuildDaily(in DailyInput) model.DailyReport {
	loc := in.Date.Location()
	dayStart := taskstate.Day(in.Date, loc)
	p := taskstate.Split(in.Items, dayStart)

	r := model.DailyReport{
		Date:           dayStart.Format(model.DateLayout),
		Overdue:        refs(p.Overdue),
		DueToday:       refs(p.DueToday),
		DueThisWeek:    refs(p.DueThisWeek),
		Signals:        sortedSignals(in.Signals),
		Checkins:       in.Checkins,
		Partial:        len(in.Missing) > 0,
		MissingSources: in.Missing,
		GeneratedAt:    b.now(),
	}
	for _, it := range p.Unscheduled {
		r.Unscheduled = append(r.Unscheduled, it.ID)
	}
	r.CompletedCount, r.EligibleCount = completion(in.Items, dayStart)
	if r.EligibleCount > 0 {
		r.CompletionRate = float64(r.CompletedCount) / float64(r.EligibleCount)
	}
	return r
}

// completion counts items that existed and were open at the start of day and were
// due on or before it, and how many of those were finished during day.
func completion(items []model.TrackedItem, dayStart time.Time) (done, eligible int) {
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, it := range items {
		if it.DueDate == nil || taskstate.Day(*it.DueDate, dayStart.Location()).After(dayStart) {
			continue
		}
		if !it.CreatedAt.IsZero() && !it.CreatedAt.Before(dayStart) {
			continue
		}
		finished, at := completedAt(it)
		if finished && at.Before(dayStart) {
			continue
		}
		eligible++
		if finished && at.Before(dayEnd) {
			done++
		}
	}
	return done, eligible
}

func completedAt(it model.TrackedItem) (bool, time.Time) {
	if !it.Status.Terminal() {
		return false, time.Time{}
	}
	if it.CompletedAt != nil {
		return true, *it.CompletedAt
	}
	return true, it.UpdatedAt
}

func refs(items []model.TrackedItem) []model.ItemRef {
	out := make([]model.ItemRef, 0, len(items))
	for _, it := range items {
		out = append(out, model.ItemRef{
			ID:           it.ID,
			ProjectID:    it.ProjectID,
			Summary:      it.Summary,
			AssigneeID:   it.AssigneeID,
			AssigneeName: it.AssigneeName,
			DueDate:      it.DueDate,
			Status:       it.Status,
			Priority:     it.Priority,
			URL:          it.URL,
		})
	}
	return out
}

func sortedSignals(in []model.ProgressSignal) []model.ProgressSignal {
	out := append([]model.ProgressSignal(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.SourceKind != b.SourceKind {
			return a.SourceKind < b.SourceKind
		}
		return a.SourceRef < b.SourceRef
	})
	return out
}
