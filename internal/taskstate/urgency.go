package taskstate

import (
	"time"

	"smart-progress/internal/model"
)

type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyThisWeek
	UrgencyDueSoon
	UrgencyOverdue
)

func (u Urgency) String() string {
	switch u {
	case UrgencyOverdue:
		return "overdue"
	case UrgencyDueSoon:
		return "due_soon"
	case UrgencyThisWeek:
		return "this_week"
	}
	return "none"
}

// UrgencyOf ranks one item as of asOf. Due today or within the next 24 hours counts as due soon.
func UrgencyOf(it model.TrackedItem, asOf time.Time) Urgency {
	if it.Status.Terminal() || it.DueDate == nil {
		return UrgencyNone
	}
	loc := asOf.Location()
	today := Day(asOf, loc)
	due := Day(*it.DueDate, loc)
	switch {
	case due.Before(today):
		return UrgencyOverdue
	case !due.After(Day(asOf.Add(24*time.Hour), loc)):
		return UrgencyDueSoon
	case !due.After(today.AddDate(0, 0, 6)):
		return UrgencyThisWeek
	}
	return UrgencyNone
}
