package report

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"smart-progress/internal/model"
)

var title = cases.Title(language.English)

// MentionFunc returns the mention markup for an item's owner, or "".
type MentionFunc func(model.ItemRef) string

// RenderDaily formats a daily report as chat markdown.
func RenderDaily(r model.DailyReport, mention MentionFunc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily progress report %s*\n", r.Date)
	if r.Partial {
		b.WriteString(partialBanner(r.MissingSources))
	}
	fmt.Fprintf(&b, "Completion: %s (%d/%d due items finished today)\n", percent(r.CompletionRate), r.CompletedCount, r.EligibleCount)

	itemSection(&b, ":rotating_light: Overdue", r.Overdue, mention)
	itemSection(&b, ":warning: Due today", r.DueToday, mention)
	itemSection(&b, ":calendar: Due this week", r.DueThisWeek, mention)
	if len(r.Unscheduled) > 0 {
		fmt.Fprintf(&b, "\n_%d open items have no due date._\n", len(r.Unscheduled))
	}

	if counts := categoryCounts(r.Signals); len(counts) > 0 {
		b.WriteString("\n*Team updates*\n")
		for _, c := range counts {
			fmt.Fprintf(&b, "• %s: %d\n", title.String(strings.ReplaceAll(string(c.category), "_", " ")), c.n)
		}
		for _, s := range r.Signals {
			if s.Category != model.CategoryBlocked && s.Category != model.CategoryDelayed {
				continue
			}
			fmt.Fprintf(&b, "  – %s (%s): %s\n", s.AuthorName, s.Category, excerpt(signalText(s)))
		}
	}

	if len(r.Checkins) > 0 {
		b.WriteString("\n*Check-ins*\n")
		b.WriteString(RenderCheckins(r.Checkins))
	}
	if len(r.Overdue) == 0 && len(r.DueToday) == 0 {
		b.WriteString("\nNothing overdue or due today. :white_check_mark:\n")
	}
	return b.String()
}

// RenderCheckins lists each responder's check-in on one block.
func RenderCheckins(sums []model.CheckinSummary) string {
	var b strings.Builder
	for _, c := range sums {
		fmt.Fprintf(&b, "• *%s*\n", c.AuthorName)
		for _, item := range c.Completed {
			fmt.Fprintf(&b, "  done: %s\n", item)
		}
		for _, item := range c.Planned {
			fmt.Fprintf(&b, "  plan: %s\n", item)
		}
		for _, item := range c.Blockers {
			fmt.Fprintf(&b, "  :no_entry: %s\n", item)
		}
	}
	return b.String()
}

func RenderWeekly(w model.WeeklyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Weekly progress report %s – %s*\n", w.WeekStart, w.WeekEnd)
	if w.Partial {
		fmt.Fprintf(&b, ":warning: _Partial week: %d of 7 daily reports available", len(w.PresentDates))
		if len(w.Gaps) > 0 {
			fmt.Fprintf(&b, " (missing %s)", strings.Join(w.Gaps, ", "))
		}
		b.WriteString("._\n")
	}
	fmt.Fprintf(&b, "Average completion: %s", percent(w.AvgCompletionRate))
	if w.CompletionDelta != nil {
		fmt.Fprintf(&b, " (%+.1f pts vs last week)", *w.CompletionDelta*100)
	}
	fmt.Fprintf(&b, "\nOverdue: %.1f per day, trend %+.0f%%\n", w.AvgOverdue, w.OverdueTrend)

	list(&b, "Key achievements", w.KeyAchievements)
	if len(w.RecurringBlockers) > 0 {
		b.WriteString("\n*Recurring blockers*\n")
		for _, rb := range w.RecurringBlockers {
			fmt.Fprintf(&b, "• %s: %d days (%s)\n", rb.Subject, rb.Occurrences, strings.Join(rb.Dates, ", "))
		}
	}
	list(&b, "Blockers", w.Blockers)
	list(&b, "Recommendations", w.Recommendations)
	return b.String()
}

func partialBanner(notes []model.SourceNote) string {
	srcs := make([]string, 0, len(notes))
	for _, n := range notes {
		srcs = append(srcs, n.Source)
	}
	return fmt.Sprintf(":warning: _Partial report: no data from %s._\n", strings.Join(srcs, ", "))
}

func itemSection(b *strings.Builder, heading string, items []model.ItemRef, mention MentionFunc) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s* (%d)\n", heading, len(items))
	for _, it := range items {
		line := it.ID
		if it.URL != "" {
			line = fmt.Sprintf("<%s|%s>", it.URL, it.ID)
		}
		line += " " + it.Summary
		if it.DueDate != nil {
			line += " (due " + it.DueDate.Format(model.DateLayout) + ")"
		}
		var m string
		if mention != nil {
			m = mention(it)
		}
		if m != "" {
			line += " " + m
		} else if it.AssigneeName != "" {
			line += " – " + it.AssigneeName
		}
		fmt.Fprintf(b, "• %s\n", line)
	}
}

type categoryCount struct {
	category model.Category
	n        int
}

func categoryCounts(signals []model.ProgressSignal) []categoryCount {
	m := map[model.Category]int{}
	for _, s := range signals {
		m[s.Category]++
	}
	out := make([]categoryCount, 0, len(m))
	for c, n := range m {
		out = append(out, categoryCount{c, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].category < out[j].category
	})
	return out
}

func list(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s*\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "• %s\n", it)
	}
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}
