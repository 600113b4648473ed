package report

import (
	"errors"
	"fmt"
	"math"
	"time"

	"smart-progress/internal/model"
)

var ErrMisalignedWeek = errors.New("week start is not on the configured weekday")

const (
	maxCompletedAchievements = 5
	maxProgressAchievements  = 3
	maxReportedIssues        = 3
	excerptRunes             = 100
	lowCompletionRate        = 0.5
	risingOverduePercent     = 10
)

// BuildWeekly summarizes the stored dailies of the seven days starting at weekStart.
// Missing days become gaps and mark the report partial; averages cover present days
// only. previous, when known, is the report for the week before and feeds the trend.
func (b *Builder) BuildWeekly(weekStart time.Time, dailies []model.DailyReport, previous *model.WeeklyReport) (model.WeeklyReport, error) {
	if weekStart.Weekday() != b.weekStart {
		return model.WeeklyReport{}, fmt.Errorf("%s is a %s, want %s: %w",
			weekStart.Format(model.DateLayout), weekStart.Weekday(), b.weekStart, ErrMisalignedWeek)
	}

	byDate := make(map[string]model.DailyReport, len(dailies))
	for _, d := range dailies {
		byDate[d.Date] = d
	}

	w := model.WeeklyReport{
		WeekStart:   weekStart.Format(model.DateLayout),
		WeekEnd:     weekStart.AddDate(0, 0, 6).Format(model.DateLayout),
		GeneratedAt: b.now(),
	}
	var present []model.DailyReport
	for i := 0; i < 7; i++ {
		date := weekStart.AddDate(0, 0, i).Format(model.DateLayout)
		d, ok := byDate[date]
		if !ok {
			w.Gaps = append(w.Gaps, date)
			continue
		}
		w.PresentDates = append(w.PresentDates, date)
		present = append(present, d)
		if d.Partial {
			w.Partial = true
		}
	}
	if len(w.Gaps) > 0 {
		w.Partial = true
	}

	if len(present) > 0 {
		var rate, overdue float64
		for _, d := range present {
			rate += d.CompletionRate
			overdue += float64(len(d.Overdue))
		}
		w.AvgCompletionRate = rate / float64(len(present))
		w.AvgOverdue = overdue / float64(len(present))
		w.OverdueTrend = overdueTrend(present)
	}
	if previous != nil {
		delta := w.AvgCompletionRate - previous.AvgCompletionRate
		w.CompletionDelta = &delta
	}

	w.RecurringBlockers = b.RecurringBlockers(present)
	w.KeyAchievements = keyAchievements(present)
	w.Blockers = blockerList(present)
	w.Recommendations = recommendations(w, present)
	return w, nil
}

// overdueTrend is the percent change in overdue count from the first to the last
// present day. Growing from zero counts as 100.
func overdueTrend(present []model.DailyReport) float64 {
	if len(present) < 2 {
		return 0
	}
	first := float64(len(present[0].Overdue))
	last := float64(len(present[len(present)-1].Overdue))
	if first == 0 {
		if last == 0 {
			return 0
		}
		return 100
	}
	return (last - first) / first * 100
}

func keyAchievements(present []model.DailyReport) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, d := range present {
		for _, c := range d.Checkins {
			for _, item := range c.Completed {
				if _, dup := seen[item]; dup || len(seen) >= maxCompletedAchievements {
					continue
				}
				seen[item] = struct{}{}
				out = append(out, "Completed: "+item)
			}
		}
	}
	n := 0
	for _, d := range present {
		for _, s := range d.Signals {
			if s.Sentiment != model.SentimentPositive || s.SourceKind == model.SourceCheckin || n >= maxProgressAchievements {
				continue
			}
			out = append(out, "Progress: "+excerpt(signalText(s)))
			n++
		}
	}
	return out
}

func blockerList(present []model.DailyReport) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, d := range present {
		for _, c := range d.Checkins {
			for _, line := range c.Blockers {
				if _, dup := seen[line]; dup {
					continue
				}
				seen[line] = struct{}{}
				out = append(out, line)
			}
		}
	}
	n := 0
	for _, d := range present {
		for _, s := range d.Signals {
			if s.Sentiment != model.SentimentNegative || s.SourceKind == model.SourceCheckin || n >= maxReportedIssues {
				continue
			}
			out = append(out, "Reported issue: "+excerpt(signalText(s)))
			n++
		}
	}
	return out
}

func recommendations(w model.WeeklyReport, present []model.DailyReport) []string {
	if len(present) == 0 {
		return []string{"No daily reports were stored this week; check the daily job."}
	}
	var out []string
	if avg := int(math.Floor(w.AvgOverdue)); avg > 0 {
		out = append(out, fmt.Sprintf("Prioritize overdue tasks (%d per day on average).", avg))
	}
	if w.AvgCompletionRate < lowCompletionRate {
		out = append(out, "Completion rate is low; review scope or add capacity.")
	}
	if w.OverdueTrend > risingOverduePercent {
		out = append(out, "Overdue tasks are increasing; revisit task priorities.")
	}
	if len(w.RecurringBlockers) > 0 {
		out = append(out, "Blockers keep recurring; schedule a session to clear them.")
	}
	if hasUnassigned(present) {
		out = append(out, "Some upcoming tasks have no assignee; assign owners.")
	}
	if len(out) == 0 {
		out = append(out, "Project is on track; keep the current pace.")
	}
	return out
}

func hasUnassigned(present []model.DailyReport) bool {
	for _, d := range present {
		for _, group := range [][]model.ItemRef{d.Overdue, d.DueToday, d.DueThisWeek} {
			for _, it := range group {
				if it.AssigneeID == "" {
					return true
				}
			}
		}
	}
	return false
}

func signalText(s model.ProgressSignal) string {
	if s.Summary != "" {
		return s.Summary
	}
	return s.RawText
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes-3]) + "..."
}
