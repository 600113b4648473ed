package model

import (
	"time"

	"gorm.io/datatypes"
)

// SourceKind is the closed set of progress sources. Adding one means touching every
// switch over it (normalizer, report builder, renderer).
type SourceKind string

const (
	SourceChat    SourceKind = "chat"
	SourceCheckin SourceKind = "checkin"
	SourceCommit  SourceKind = "commit"
)

// IdentitySpace returns the space the author of a signal of this kind lives in.
func (k SourceKind) IdentitySpace() IdentitySpace {
	switch k {
	case SourceChat, SourceCheckin:
		return SpaceChat
	case SourceCommit:
		return SpaceVCS
	}
	return ""
}

type Category string

const (
	CategoryCompleted  Category = "completed"
	CategoryBlocked    Category = "blocked"
	CategoryDelayed    Category = "delayed"
	CategoryInProgress Category = "in_progress"
	CategoryUnknown    Category = "unknown"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryCompleted, CategoryBlocked, CategoryDelayed, CategoryInProgress, CategoryUnknown:
		return true
	}
	return false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Outcome tags how a signal's category and sentiment were obtained.
type Outcome string

const (
	OutcomeClassified Outcome = "classified"
	OutcomeHeuristic  Outcome = "heuristic"
	OutcomeUnknown    Outcome = "unknown"
)

// AnonymousAuthor is the display marker for signals whose author has no identity.
const AnonymousAuthor = "anonymous"

// ProgressSignal is one normalized progress event. It is written once per
// (source_kind, source_ref) and never updated.
type ProgressSignal struct {
	ID                uint                        `gorm:"primaryKey" json:"-"`
	SourceKind        SourceKind                  `gorm:"size:16;uniqueIndex:uk_signal_source" json:"source_kind"`
	SourceRef         string                      `gorm:"size:191;uniqueIndex:uk_signal_source" json:"source_ref"`
	ReportDate        string                      `gorm:"size:10;index" json:"report_date"`
	AuthorIdentityID  *uint                       `json:"author_identity_id,omitempty"`
	AuthorExternalID  string                      `gorm:"size:128" json:"author_external_id"`
	AuthorName        string                      `gorm:"size:128" json:"author_name"`
	ReferencedItemIDs datatypes.JSONSlice[string] `json:"referenced_item_ids"`
	RawText           string                      `gorm:"type:text" json:"raw_text"`
	Category          Category                    `gorm:"size:16" json:"category"`
	Sentiment         Sentiment                   `gorm:"size:16" json:"sentiment"`
	Outcome           Outcome                     `gorm:"size:16" json:"outcome"`
	Summary           string                      `gorm:"type:text" json:"summary,omitempty"`
	OccurredAt        time.Time                   `json:"occurred_at"`
}

func (ProgressSignal) TableName() string { return "progress_signals" }

// Anonymous reports whether the author could not be resolved to an identity.
func (s ProgressSignal) Anonymous() bool { return s.AuthorIdentityID == nil }

// RawEvent is a source event before normalization. The set of implementations is
// closed: ChatMessage, CheckinReply and Commit.
type RawEvent interface {
	Kind() SourceKind
	rawEvent()
}

type ChatMessage struct {
	Channel  string
	UserID   string
	UserName string
	Text     string
	TS       string
	ThreadTS string
	Time     time.Time
}

// CheckinReply is a reply posted in the check-in thread.
type CheckinReply struct {
	Channel  string
	ThreadTS string
	TS       string
	UserID   string
	UserName string
	Text     string
	Time     time.Time
}

type Commit struct {
	Repo    string
	SHA     string
	Author  string
	Message string
	Time    time.Time
}

func (ChatMessage) Kind() SourceKind  { return SourceChat }
func (CheckinReply) Kind() SourceKind { return SourceCheckin }
func (Commit) Kind() SourceKind       { return SourceCommit }

func (ChatMessage) rawEvent()  {}
func (CheckinReply) rawEvent() {}
func (Commit) rawEvent()       {}
