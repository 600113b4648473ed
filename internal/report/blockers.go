package report

import (
	"sort"

	"smart-progress/internal/model"
	"smart-progress/internal/reference"
	"smart-progress/internal/signal"
)

// RecurringBlockers finds blocker subjects reported on at least two distinct days.
// A subject is each referenced item id of a blocked signal, or the keyword form of
// its text when it names no item. Check-in blocker lines are read the same way;
// unlabeled check-ins count like chat messages.
func (b *Builder) RecurringBlockers(dailies []model.DailyReport) []model.RecurringBlocker {
	days := map[string]map[string]struct{}{}
	add := func(subject, date string) {
		if subject == "" {
			return
		}
		if days[subject] == nil {
			days[subject] = map[string]struct{}{}
		}
		days[subject][date] = struct{}{}
	}

	for _, d := range dailies {
		for _, s := range d.Signals {
			if s.Category != model.CategoryBlocked {
				continue
			}
			// Labeled check-ins are counted through their parsed blocker lines below.
			if s.SourceKind == model.SourceCheckin {
				if _, structured := signal.ParseCheckin(s.RawText); structured {
					continue
				}
			}
			if len(s.ReferencedItemIDs) == 0 {
				add(signal.Keywords(s.RawText), d.Date)
				continue
			}
			for _, id := range s.ReferencedItemIDs {
				add(id, d.Date)
			}
		}
		for _, c := range d.Checkins {
			for _, line := range c.Blockers {
				ids := reference.Extract(line, b.refs)
				if len(ids) == 0 {
					add(signal.Keywords(line), d.Date)
				}
				for _, id := range ids {
					add(id, d.Date)
				}
			}
		}
	}

	var out []model.RecurringBlocker
	for subject, set := range days {
		if len(set) < 2 {
			continue
		}
		dates := make([]string, 0, len(set))
		for d := range set {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		out = append(out, model.RecurringBlocker{Subject: subject, Occurrences: len(dates), Dates: dates})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		if out[i].Dates[0] != out[j].Dates[0] {
			return out[i].Dates[0] < out[j].Dates[0]
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}
