// Package taskstate buckets a tracker snapshot by due date relative to a reporting day.
package taskstate

import (
	"sort"
	"time"

	"smart-progress/internal/model"
)

// Partition splits a snapshot into disjoint buckets. Every item lands in exactly one.
type Partition struct {
	Overdue     []model.TrackedItem
	DueToday    []model.TrackedItem
	DueThisWeek []model.TrackedItem // due within the next six days, today excluded
	Unscheduled []model.TrackedItem // open, no due date
	Later       []model.TrackedItem // open, due after this week
	Settled     []model.TrackedItem // resolved or closed
}

// Len is the number of items across all buckets.
func (p Partition) Len() int {
	return len(p.Overdue) + len(p.DueToday) + len(p.DueThisWeek) + len(p.Unscheduled) + len(p.Later) + len(p.Settled)
}

// Day truncates t to midnight of its calendar day in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Split partitions items as of the calendar day of asOf, in asOf's location.
func Split(items []model.TrackedItem, asOf time.Time) Partition {
	loc := asOf.Location()
	today := Day(asOf, loc)
	weekEnd := today.AddDate(0, 0, 6)

	var p Partition
	for _, it := range items {
		switch {
		case it.Status.Terminal():
			p.Settled = append(p.Settled, it)
		case it.DueDate == nil:
			p.Unscheduled = append(p.Unscheduled, it)
		default:
			due := Day(*it.DueDate, loc)
			switch {
			case due.Before(today):
				p.Overdue = append(p.Overdue, it)
			case due.Equal(today):
				p.DueToday = append(p.DueToday, it)
			case !due.After(weekEnd):
				p.DueThisWeek = append(p.DueThisWeek, it)
			default:
				p.Later = append(p.Later, it)
			}
		}
	}
	for _, bucket := range [][]model.TrackedItem{p.Overdue, p.DueToday, p.DueThisWeek, p.Later} {
		sortByDue(bucket)
	}
	sortByID(p.Unscheduled)
	sortByID(p.Settled)
	return p
}

func sortByDue(items []model.TrackedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := *items[i].DueDate, *items[j].DueDate
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		if pi, pj := priorityRank(items[i].Priority), priorityRank(items[j].Priority); pi != pj {
			return pi < pj
		}
		return items[i].ID < items[j].ID
	})
}

func sortByID(items []model.TrackedItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func priorityRank(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 0
	case model.PriorityLow:
		return 2
	}
	return 1
}
