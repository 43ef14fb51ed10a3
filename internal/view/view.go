// Package view filters, searches and sorts a post collection for display.
// Nothing here touches the store; Project works on whatever slice it is given.
package view

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/ibeckermayer/modsync/internal/types"
)

// SortKey selects the field posts are ordered by
type SortKey string

const (
	SortDate     SortKey = "date"
	SortQuality  SortKey = "quality"
	SortPriority SortKey = "priority"
)

// SortOrder is ascending or descending
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Query describes one projection. The zero value shows everything newest first.
type Query struct {
	Search string
	SortBy SortKey
	Order  SortOrder
	// Statuses, when non-empty, keeps only posts in one of these statuses.
	Statuses []types.Status
}

// Confirmed is the query behind the confirmed list
func Confirmed() Query {
	return Query{Statuses: []types.Status{types.StatusPosted}}
}

// Rejected is the query behind the rejected list
func Rejected() Query {
	return Query{Statuses: []types.Status{types.StatusRejected, types.StatusDeleted, types.StatusArchived}}
}

// ParseSortKey accepts date, quality or priority. Empty means date.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortDate, nil
	case SortDate, SortQuality, SortPriority:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q (want date, quality or priority)", s)
}

// ParseSortOrder accepts asc or desc. Empty means desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return Desc, nil
	case Asc, Desc:
		return o, nil
	}
	return "", fmt.Errorf("unknown sort order %q (want asc or desc)", s)
}

// Project returns a new slice with the posts matching q in q's order.
// posts is never modified.
func Project(posts []types.Post, q Query) []types.Post {
	// Blank input means no filter; otherwise surrounding spaces are part of the needle.
	var needle string
	if strings.TrimSpace(q.Search) != "" {
		needle = strings.ToLower(q.Search)
	}

	out := make([]types.Post, 0, len(posts))
	for _, p := range posts {
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, p.Status) {
			continue
		}
		if needle != "" && !matches(p, needle) {
			continue
		}
		out = append(out, p)
	}

	compare := comparator(q.SortBy)
	if q.Order == Asc {
		slices.SortStableFunc(out, compare)
	} else {
		slices.SortStableFunc(out, func(a, b types.Post) int { return compare(b, a) })
	}
	return out
}

// matches reports whether any searchable field contains needle (already lowercased)
func matches(p types.Post, needle string) bool {
	for _, field := range []string{p.OriginalText, p.TranslatedText, p.ChannelName, p.SenderName} {
		if field != "" && strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func comparator(key SortKey) func(a, b types.Post) int {
	switch key {
	case SortQuality:
		return func(a, b types.Post) int { return cmp.Compare(a.Quality(), b.Quality()) }
	case SortPriority:
		return func(a, b types.Post) int { return cmp.Compare(a.Priority, b.Priority) }
	default:
		return func(a, b types.Post) int { return a.CreatedAt.Compare(b.CreatedAt.Time) }
	}
}
