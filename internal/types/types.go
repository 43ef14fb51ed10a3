package types

import (
	"fmt"
	"strings"
)

// Status is the moderation state of a post
type Status string

const (
	StatusPending  Status = "pending"
	StatusPosted   Status = "posted"
	StatusRejected Status = "rejected"
	StatusDeleted  Status = "deleted"
	StatusArchived Status = "archived"
)

// Statuses lists every valid status in pipeline order
var Statuses = []Status{StatusPending, StatusPosted, StatusRejected, StatusDeleted, StatusArchived}

// Valid reports whether s is one of the five known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPosted, StatusRejected, StatusDeleted, StatusArchived:
		return true
	}
	return false
}

// ParseStatus normalizes and validates a status name
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// NormalizeStatus maps a status string from the server onto the five-value enum.
// The server records "approved" for the restore action; that is a return to pending.
func NormalizeStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "approved" {
		return StatusPending, true
	}
	return st, st.Valid()
}

// Action is a moderator decision sent to the server
type Action string

const (
	ActionPostTwitter Action = "post_twitter"
	ActionReject      Action = "reject"
	ActionDelete      Action = "delete"
	ActionArchive     Action = "archive"
	// ActionApprove restores a rejected, deleted or archived post to pending.
	ActionApprove Action = "approve"
)

// Actions lists every action the server accepts
var Actions = []Action{ActionPostTwitter, ActionReject, ActionDelete, ActionArchive, ActionApprove}

// ParseAction normalizes and validates an action name
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// MediaKind classifies attached media
type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Media describes a post attachment. Path is relative to /api/media/.
type Media struct {
	Kind MediaKind
	Path string
}

// Post is a single item moving through the moderation pipeline
type Post struct {
	ID             int64      `json:"id"`
	MessageID      string     `json:"message_id"`
	ChannelName    string     `json:"channel_name"`
	SenderName     string     `json:"sender_name"`
	OriginalText   string     `json:"original_text"`
	TranslatedText string     `json:"translated_text,omitempty"`
	MediaType      string     `json:"media_type,omitempty"`
	MediaPath      string     `json:"media_path,omitempty"`
	Classification string     `json:"classification"`
	QualityScore   *float64   `json:"quality_score,omitempty"`
	BiasScore      *float64   `json:"bias_score,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      Timestamp  `json:"created_at"`
	ProcessedAt    *Timestamp `json:"processed_at,omitempty"`
	PostedAt       *Timestamp `json:"posted_at,omitempty"`
	TwitterURL     string     `json:"twitter_url,omitempty"`
	TelegramURL    string     `json:"telegram_url,omitempty"`
	Priority       int        `json:"priority"`
}

// Media returns the attachment descriptor, Kind none when there is nothing to show
func (p Post) Media() Media {
	if p.MediaPath == "" {
		return Media{Kind: MediaNone}
	}
	switch strings.ToLower(p.MediaType) {
	case "photo", "image":
		return Media{Kind: MediaPhoto, Path: p.MediaPath}
	case "video":
		return Media{Kind: MediaVideo, Path: p.MediaPath}
	}
	return Media{Kind: MediaNone, Path: p.MediaPath}
}

// Quality returns the quality score, 0 when the server sent none
func (p Post) Quality() float64 {
	if p.QualityScore == nil {
		return 0
	}
	return *p.QualityScore
}

// Bias returns the bias score, 0 when the server sent none
func (p Post) Bias() float64 {
	if p.BiasScore == nil {
		return 0
	}
	return *p.BiasScore
}

// QualityMetrics holds averages over the analytics window
type QualityMetrics struct {
	AvgQuality float64 `json:"avg_quality"`
	AvgBias    float64 `json:"avg_bias"`
	TotalPosts int     `json:"total_posts"`
}

// Analytics is the server's reporting summary. The client only caches it.
type Analytics struct {
	PostsByStatus  map[string]int `json:"posts_by_status"`
	PostsByChannel map[string]int `json:"posts_by_channel"`
	DailyPosts     map[string]int `json:"daily_posts"`
	UserActions    map[string]int `json:"user_actions"`
	QualityMetrics QualityMetrics `json:"quality_metrics"`
}

// Stats holds dashboard totals and rates (percentages)
type Stats struct {
	TotalPosts    int     `json:"total_posts"`
	PendingPosts  int     `json:"pending_posts"`
	PostedCount   int     `json:"posted_count"`
	DeletedCount  int     `json:"deleted_count"`
	ArchivedCount int     `json:"archived_count"`
	PostRate      float64 `json:"post_rate"`
	DeleteRate    float64 `json:"delete_rate"`
}

// ActionResult is what a relayed decision reports back
type ActionResult struct {
	NewStatus Status
	Message   string
}
