package domain

import (
	"strconv"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a scheduled broadcast.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusDispatching TaskStatus = "dispatching"
	TaskStatusSent        TaskStatus = "sent"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCanceled    TaskStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSent || s == TaskStatusFailed || s == TaskStatusCanceled
}

// AudienceKind names a class of recipients.
type AudienceKind string

const (
	AudienceAll       AudienceKind = "all"
	AudienceConnected AudienceKind = "connected"
	AudienceInactive  AudienceKind = "inactive"
	AudienceExplicit  AudienceKind = "explicit"
)

// Audience is either a symbolic class or an explicit list of chat IDs.
type Audience struct {
	Kind    AudienceKind `bson:"kind" json:"kind"`
	ChatIDs []int64      `bson:"chat_ids,omitempty" json:"chat_ids,omitempty"`
}

// Describe renders the audience for confirmations and listings.
func (a Audience) Describe() string {
	switch a.Kind {
	case AudienceAll:
		return "all users"
	case AudienceConnected:
		return "users with a connected wallet"
	case AudienceInactive:
		return "users without a connected wallet"
	case AudienceExplicit:
		ids := make([]string, 0, len(a.ChatIDs))
		for _, id := range a.ChatIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		return "users " + strings.Join(ids, ", ")
	default:
		return string(a.Kind)
	}
}

// ScheduledTask is a broadcast message awaiting or having completed dispatch.
type ScheduledTask struct {
	TaskID          string     `bson:"task_id" json:"task_id"`
	Content         string     `bson:"content" json:"content"`
	ParseMode       string     `bson:"parse_mode,omitempty" json:"parse_mode,omitempty"`
	ScheduledTime   time.Time  `bson:"scheduled_time" json:"scheduled_time"`
	Audience        Audience   `bson:"audience" json:"audience"`
	CreatedBy       int64      `bson:"created_by" json:"created_by"`
	Status          TaskStatus `bson:"status" json:"status"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	SentTime        time.Time  `bson:"sent_time,omitempty" json:"sent_time,omitempty"`
	FinishedAt      time.Time  `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	SuccessCount    int        `bson:"success_count" json:"success_count"`
	FailureCount    int        `bson:"failure_count" json:"failure_count"`
	TotalRecipients int        `bson:"total_recipients" json:"total_recipients"`
	ErrorSummary    string     `bson:"error_summary,omitempty" json:"error_summary,omitempty"`
}

const previewLimit = 50

// Preview returns the content truncated for confirmations and reports.
func (t ScheduledTask) Preview() string {
	return TruncatePreview(t.Content, previewLimit)
}

// TruncatePreview cuts text to limit runes, appending "..." when shortened.
func TruncatePreview(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
