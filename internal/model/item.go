package model

import "time"

type ItemStatus string

const (
	StatusOpen       ItemStatus = "open"
	StatusInProgress ItemStatus = "in_progress"
	StatusPending    ItemStatus = "pending"
	StatusResolved   ItemStatus = "resolved"
	StatusClosed     ItemStatus = "closed"
)

// Terminal reports whether the item no longer needs work.
func (s ItemStatus) Terminal() bool { return s == StatusResolved || s == StatusClosed }

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// TrackedItem is the engine's read-only copy of a tracker ticket. DueDate is midnight
// of the due day in the reporting timezone.
type TrackedItem struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	ProjectID    string     `gorm:"size:64;index" json:"project_id"`
	Summary      string     `json:"summary"`
	AssigneeID   string     `gorm:"size:128" json:"assignee_id,omitempty"`
	AssigneeName string     `gorm:"size:128" json:"assignee_name,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Status       ItemStatus `gorm:"size:32" json:"status"`
	Priority     Priority   `gorm:"size:16" json:"priority"`
	URL          string     `json:"url,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FetchedAt    time.Time  `gorm:"index" json:"-"`
}

func (TrackedItem) TableName() string { return "tracked_items" }
