package state

import (
	"time"

	"github.com/ibeckermayer/modsync/internal/types"
)

// Transition is one of the closed set of state changes. Only this package
// can add members.
type Transition interface {
	isTransition()
}

// SetLoading toggles the loading flag
type SetLoading struct {
	Loading bool
}

// SetError records the last failure. A nil Err clears it. Loading is always cleared.
// A non-zero Seq is the fetch that failed; it is dropped once a newer fetch landed.
type SetError struct {
	Err error
	Seq uint64
}

// ReplaceItems swaps in a freshly fetched collection and its page cursors.
// Seq orders concurrent fetches; zero means unsequenced.
type ReplaceItems struct {
	Posts  []types.Post
	Limit  int
	Offset int
	Seq    uint64
}

// MergeItem shallow-merges Patch into the post with ID. Absent ids are ignored.
type MergeItem struct {
	ID    int64
	Patch PostPatch
}

// SetAnalytics caches the latest analytics summary
type SetAnalytics struct {
	Analytics *types.Analytics
}

// SetStats caches the latest stats summary
type SetStats struct {
	Stats *types.Stats
}

// SetBaseURL changes the server the session talks to
type SetBaseURL struct {
	URL string
}

func (SetLoading) isTransition()   {}
func (SetError) isTransition()     {}
func (ReplaceItems) isTransition() {}
func (MergeItem) isTransition()    {}
func (SetAnalytics) isTransition() {}
func (SetStats) isTransition()     {}
func (SetBaseURL) isTransition()   {}

// PostPatch holds the fields a MergeItem may overwrite. Nil fields are left alone.
type PostPatch struct {
	Status         *types.Status
	TranslatedText *string
	Classification *string
	QualityScore   *float64
	BiasScore      *float64
	ProcessedAt    *time.Time
	PostedAt       *time.Time
	TwitterURL     *string
	TelegramURL    *string
	Priority       *int
}

// StatusPatch is the common single-field patch
func StatusPatch(s types.Status) PostPatch {
	return PostPatch{Status: &s}
}

// Empty reports whether the patch changes nothing
func (p PostPatch) Empty() bool {
	return p == PostPatch{}
}

func (p PostPatch) applyTo(post types.Post) types.Post {
	if p.Status != nil {
		post.Status = *p.Status
	}
	if p.TranslatedText != nil {
		post.TranslatedText = *p.TranslatedText
	}
	if p.Classification != nil {
		post.Classification = *p.Classification
	}
	if p.QualityScore != nil {
		q := *p.QualityScore
		post.QualityScore = &q
	}
	if p.BiasScore != nil {
		b := *p.BiasScore
		post.BiasScore = &b
	}
	if p.ProcessedAt != nil {
		ts := types.NewTimestamp(*p.ProcessedAt)
		post.ProcessedAt = &ts
	}
	if p.PostedAt != nil {
		ts := types.NewTimestamp(*p.PostedAt)
		post.PostedAt = &ts
	}
	if p.TwitterURL != nil {
		post.TwitterURL = *p.TwitterURL
	}
	if p.TelegramURL != nil {
		post.TelegramURL = *p.TelegramURL
	}
	if p.Priority != nil {
		post.Priority = *p.Priority
	}
	return post
}
