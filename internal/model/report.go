package model

import (
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the calendar-date key used for reports and signals.
const DateLayout = "2006-01-02"

// ItemRef is the slice of a TrackedItem a report keeps, frozen at build time.
type ItemRef struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Summary      string     `json:"summary"`
	AssigneeID   string     `json:"assignee_id,omitempty"`
	AssigneeName string     `json:"assignee_name,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Status       ItemStatus `json:"status"`
	Priority     Priority   `json:"priority"`
	URL          string     `json:"url,omitempty"`
}

// CheckinSummary is the structured part of one check-in reply.
type CheckinSummary struct {
	AuthorID   string   `json:"author_id"`
	AuthorName string   `json:"author_name"`
	Completed  []string `json:"completed,omitempty"`
	Planned    []string `json:"planned,omitempty"`
	Blockers   []string `json:"blockers,omitempty"`
}

// SourceNote explains why a source contributed nothing (or less) to a report.
type SourceNote struct {
	Source string `json:"source"`
	Err    string `json:"error"`
}

type DailyReport struct {
	Date           string           `json:"date"`
	Overdue        []ItemRef        `json:"overdue"`
	DueToday       []ItemRef        `json:"due_today"`
	DueThisWeek    []ItemRef        `json:"due_this_week"`
	Unscheduled    []string         `json:"unscheduled,omitempty"`
	Signals        []ProgressSignal `json:"signals"`
	Checkins       []CheckinSummary `json:"checkins,omitempty"`
	CompletedCount int              `json:"completed_count"`
	EligibleCount  int              `json:"eligible_count"`
	CompletionRate float64          `json:"completion_rate"`
	Partial        bool             `json:"partial"`
	MissingSources []SourceNote     `json:"missing_sources,omitempty"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// HasIssues reports whether anything in the report needs attention today.
func (r DailyReport) HasIssues() bool { return len(r.Overdue) > 0 || len(r.DueToday) > 0 }

type RecurringBlocker struct {
	Subject     string   `json:"subject"`
	Occurrences int      `json:"occurrences"`
	Dates       []string `json:"dates"`
}

type WeeklyReport struct {
	WeekStart         string             `json:"week_start"`
	WeekEnd           string             `json:"week_end"`
	PresentDates      []string           `json:"present_dates"`
	Gaps              []string           `json:"gaps,omitempty"`
	Partial           bool               `json:"partial"`
	AvgCompletionRate float64            `json:"avg_completion_rate"`
	CompletionDelta   *float64           `json:"completion_delta,omitempty"`
	OverdueTrend      float64            `json:"overdue_trend"`
	AvgOverdue        float64            `json:"avg_overdue"`
	RecurringBlockers []RecurringBlocker `json:"recurring_blockers,omitempty"`
	KeyAchievements   []string           `json:"key_achievements,omitempty"`
	Blockers          []string           `json:"blockers,omitempty"`
	Recommendations   []string           `json:"recommendations,omitempty"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// DeliveryAttempt is one send try. It is logged, not stored.
type DeliveryAttempt struct {
	ReportRef string    `json:"report_ref"`
	Attempt   int       `json:"attempt"`
	Outcome   string    `json:"outcome"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

const (
	AttemptAccepted  = "accepted"
	AttemptTransient = "transient_failure"
	AttemptPermanent = "permanent_failure"
)

// DailyReportRecord is the stored form of a DailyReport, unique by date.
type DailyReportRecord struct {
	ID             uint                            `gorm:"primaryKey"`
	ReportDate     string                          `gorm:"size:10;uniqueIndex:uk_daily_date"`
	Partial        bool                            `gorm:"not null;default:false"`
	CompletionRate float64                         `gorm:"not null;default:0"`
	Payload        datatypes.JSONType[DailyReport] `gorm:"type:json"`
	GeneratedAt    time.Time
	UpdatedAt      time.Time
}

// WeeklyReportRecord is the stored form of a WeeklyReport, unique by week range.
type WeeklyReportRecord struct {
	ID          uint                             `gorm:"primaryKey"`
	WeekStart   string                           `gorm:"size:10;uniqueIndex:uk_week_range"`
	WeekEnd     string                           `gorm:"size:10;uniqueIndex:uk_week_range"`
	Partial     bool                             `gorm:"not null;default:false"`
	Payload     datatypes.JSONType[WeeklyReport] `gorm:"type:json"`
	GeneratedAt time.Time
	UpdatedAt   time.Time
}

// CheckinWindow remembers the prompt thread of a day's check-in so the close job can
// find it after a restart.
type CheckinWindow struct {
	ID       uint       `gorm:"primaryKey"`
	Date     string     `gorm:"size:10;uniqueIndex:uk_checkin_date"`
	Channel  string     `gorm:"size:64"`
	ThreadTS string     `gorm:"size:64"`
	OpenedAt time.Time
	ClosedAt *time.Time
}

func (DailyReportRecord) TableName() string  { return "daily_reports" }
func (WeeklyReportRecord) TableName() string { return "weekly_reports" }
func (CheckinWindow) TableName() string      { return "checkin_windows" }
